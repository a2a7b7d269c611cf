package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/internal/version"
	"evalgo.org/stratum/models"
)

func TestNewRejectsBadBaseURL(t *testing.T) {
	for _, base := range []string{"", "localhost:8080", "://x"} {
		_, err := New(base, Options{})
		assert.Error(t, err, base)
	}
}

func TestRequestHeaders(t *testing.T) {
	tests := []struct {
		name       string
		opts       Options
		wantAuth   string
		wantKey    string
		wantHeader string
	}{
		{name: "bearer", opts: Options{Token: "tok", Project: "/projects/p1"}, wantAuth: "Bearer tok", wantHeader: "X-Project"},
		{name: "api key wins", opts: Options{Token: "tok", APIKey: "sk_1"}, wantKey: "sk_1"},
		{name: "custom project header", opts: Options{Project: "/projects/p1", ProjectHeader: "X-Tenant"}, wantHeader: "X-Tenant"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got http.Header
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Clone()
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, `{"documentLinks":[],"totalCount":0}`)
			}))
			defer ts.Close()

			c, err := New(ts.URL, tt.opts)
			require.NoError(t, err)
			_, err = c.ListClusters(context.Background(), ListOptions{})
			require.NoError(t, err)

			assert.Equal(t, tt.wantAuth, got.Get("Authorization"))
			assert.Equal(t, tt.wantKey, got.Get("X-API-Key"))
			assert.Equal(t, version.UserAgent(), got.Get("User-Agent"))
			if tt.wantHeader != "" {
				assert.Equal(t, tt.opts.Project, got.Get(tt.wantHeader))
			}
		})
	}
}

func TestClusterCalls(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/clusters", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "!DOCKER", r.URL.Query().Get("type"))
			assert.Equal(t, "true", r.URL.Query().Get("expand"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"documentLinks": []string{"/clusters/c1"},
				"documents":     map[string]interface{}{"/clusters/c1": map[string]string{"id": "c1", "name": "vch"}},
				"totalCount":    1,
			})
		case http.MethodPost:
			var spec models.ClusterSpec
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
			if spec.HostState != nil && !spec.AcceptCertificate {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"certificate": map[string]string{"fingerprint": "ab:cd"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]string{"id": "c2", "name": spec.Name})
		}
	})
	mux.HandleFunc("/api/v1/clusters/c1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodDelete:
			writeJSON(w, http.StatusAccepted, map[string]string{"clusterId": "c1", "taskId": "removal:1", "stage": "TASK_SUBMITTED"})
		default:
			writeJSON(w, http.StatusOK, map[string]string{"id": "c1"})
		}
	})
	mux.HandleFunc("/api/v1/clusters/c2", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/v1/clusters/missing", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"code": 404, "errorCode": "CLUSTER_NOT_FOUND", "message": "cluster missing not found",
		})
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	c, err := New(ts.URL, Options{Project: "/projects/p1"})
	require.NoError(t, err)
	ctx := context.Background()

	list, err := c.ListClusters(ctx, ListOptions{Type: "!DOCKER", Expand: true})
	require.NoError(t, err)
	assert.Equal(t, 1, list.TotalCount)
	assert.Equal(t, "vch", list.Documents["/clusters/c1"].Name)

	created, err := c.CreateCluster(ctx, &models.ClusterSpec{Name: "empty", CreateEmptyCluster: true})
	require.NoError(t, err)
	require.NotNil(t, created.Cluster)
	assert.Equal(t, "c2", created.Cluster.ID)

	created, err = c.CreateCluster(ctx, &models.ClusterSpec{HostState: &models.Host{Address: "https://h1:2376"}})
	require.NoError(t, err)
	require.NotNil(t, created.Certificate)
	assert.Nil(t, created.Cluster)
	assert.Equal(t, "ab:cd", created.Certificate.Fingerprint)

	td, err := c.DeleteCluster(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, td)
	assert.Equal(t, "removal:1", td.TaskID)

	td, err = c.DeleteCluster(ctx, "c2")
	require.NoError(t, err)
	assert.Nil(t, td)

	_, err = c.GetCluster(ctx, "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "CLUSTER_NOT_FOUND", apiErr.Code)
}

func TestHostPaging(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("$skip") == "" {
			assert.Equal(t, "rack=a", q.Get("customOptions"))
			assert.Equal(t, "2", q.Get("$limit"))
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"documentLinks": []string{"/clusters/c1/hosts/h1", "/clusters/c1/hosts/h2"},
				"documentCount": 2,
				"nextPageLink":  "/api/v1/clusters/c1/hosts?%24limit=2&%24skip=2&customOptions=rack%3Da",
			})
			return
		}
		assert.Equal(t, "2", q.Get("$skip"))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"documentLinks": []string{"/clusters/c1/hosts/h3"},
			"documentCount": 1,
		})
	}))
	defer ts.Close()

	c, err := New(ts.URL, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	page, err := c.ListHosts(ctx, "c1", HostListOptions{Limit: 2, CustomOptions: map[string]string{"rack": "a"}})
	require.NoError(t, err)
	assert.Equal(t, 2, page.DocumentCount)

	page, err = c.NextHosts(ctx, page)
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, 1, page.DocumentCount)

	page, err = c.NextHosts(ctx, page)
	require.NoError(t, err)
	assert.Nil(t, page)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
