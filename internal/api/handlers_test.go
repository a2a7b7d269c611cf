package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/internal/admission"
	"evalgo.org/stratum/internal/auth"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/config"
	"evalgo.org/stratum/internal/notify"
	"evalgo.org/stratum/internal/removal"
	"evalgo.org/stratum/internal/storage/memory"
	"evalgo.org/stratum/models"
)

const testProject = "/projects/p1"

type testEnv struct {
	srv   *Server
	store *memory.Store
	cfg   *config.Config
}

type envOptions struct {
	// idleRemoval leaves the removal executor stopped so teardowns never finish.
	idleRemoval bool
	mutate      func(*config.Config)
	health      HealthChecker
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	cfg := &config.Config{
		Storage: config.StorageConfig{Driver: config.DriverMemory},
		Cluster: config.ClusterConfig{
			ProjectHeader:     "X-Project",
			DefaultQueryLimit: 100,
			QueryExpiration:   5 * time.Second,
			DeleteWait:        5 * time.Second,
			RemovalTimeout:    10 * time.Second,
		},
		Security: config.SecurityConfig{
			JWTSecret:     "test-secret",
			JWTExpiration: time.Hour,
		},
	}
	if opts.mutate != nil {
		opts.mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	store := memory.New()
	exec := removal.New(store, store, notify.NewBroker(), logger, removal.Options{
		Workers:       1,
		QueueSize:     16,
		SweepInterval: 50 * time.Millisecond,
	})
	if !opts.idleRemoval {
		exec.Start(ctx)
		t.Cleanup(exec.Stop)
	}

	hub := NewHub(logger)
	go hub.Run(ctx)

	orch := cluster.New(cluster.Dependencies{
		Zones:      store,
		Placements: store,
		Hosts:      store,
		Admission:  admission.New(store, store, admission.Config{}, logger),
		Removal:    exec,
		Events:     hub,
		Logger:     logger,
	}, cluster.Options{
		DefaultQueryLimit: cfg.Cluster.DefaultQueryLimit,
		QueryExpiration:   cfg.Cluster.QueryExpiration,
		RemovalTimeout:    cfg.Cluster.RemovalTimeout,
	})

	health := opts.health
	if health == nil {
		health = store
	}
	srv, err := New(cfg, Dependencies{Orchestrator: orch, Health: health, Hub: hub, Logger: logger})
	require.NoError(t, err)

	return &testEnv{srv: srv, store: store, cfg: cfg}
}

// do sends a request with the test project header unless headers
// override it; an empty header value removes the header.
func (e *testEnv) do(t *testing.T, method, target string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Project", testProject)
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func requireAPIError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	var body APIError
	decode(t, rec, &body)
	assert.Equal(t, code, body.ErrorCode)
}

func dockerHostBody(address string) *models.Host {
	return &models.Host{
		Address:          address,
		CustomProperties: map[string]string{models.PropAdapterType: "API"},
	}
}

func (e *testEnv) createCluster(t *testing.T, spec *models.ClusterSpec) *models.ClusterDto {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/clusters", spec, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto models.ClusterDto
	decode(t, rec, &dto)
	require.NotEmpty(t, dto.ID)
	return &dto
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, config.DriverMemory, body["storage"])
}

type failingHealth struct{}

func (failingHealth) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthUnavailable(t *testing.T) {
	env := newTestEnv(t, envOptions{health: failingHealth{}})
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestClusterLifecycle(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rec := env.do(t, http.MethodPost, "/api/v1/clusters", &models.ClusterSpec{
		HostState: dockerHostBody("https://10.0.0.1:2376"),
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created models.ClusterDto
	decode(t, rec, &created)
	assert.Equal(t, models.ClusterTypeDocker, created.Type)
	assert.Equal(t, models.ClusterStatusOn, created.Status)
	assert.Equal(t, []string{testProject}, created.TenantLinks)
	require.Len(t, created.NodeLinks, 1)
	assert.Equal(t, "/api/v1"+created.DocumentSelfLink, rec.Header().Get("Location"))

	// Links only without expand.
	rec = env.do(t, http.MethodGet, "/api/v1/clusters", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list ClusterListResponse
	decode(t, rec, &list)
	assert.Equal(t, []string{created.DocumentSelfLink}, list.DocumentLinks)
	assert.Nil(t, list.Documents)

	rec = env.do(t, http.MethodGet, "/api/v1/clusters?expand", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = ClusterListResponse{}
	decode(t, rec, &list)
	require.Contains(t, list.Documents, created.DocumentSelfLink)
	assert.Equal(t, created.Name, list.Documents[created.DocumentSelfLink].Name)

	rec = env.do(t, http.MethodPatch, "/api/v1/clusters/"+created.ID, &models.ClusterSpec{
		Name:    "edge",
		Details: "rack 4",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var patched models.ClusterDto
	decode(t, rec, &patched)
	assert.Equal(t, "edge", patched.Name)
	assert.Equal(t, "rack 4", patched.Details)

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+created.ID, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.ClusterDto
	decode(t, rec, &got)
	assert.Equal(t, "edge", got.Name)
	// Docker nodes are exposed reduced.
	node := got.Nodes[created.NodeLinks[0]]
	require.NotNil(t, node)
	assert.Empty(t, node.CustomProperties)

	rec = env.do(t, http.MethodDelete, "/api/v1/clusters/"+created.ID, nil, nil)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+created.ID, nil, nil)
	requireAPIError(t, rec, http.StatusNotFound, cluster.CodeClusterNotFound)

	_, err := env.store.GetHost(context.Background(), created.NodeLinks[0])
	assert.ErrorIs(t, err, cluster.ErrNotFound)
}

func TestCreateClusterErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name       string
		body       interface{}
		headers    map[string]string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "missing project",
			body:       &models.ClusterSpec{HostState: dockerHostBody("https://10.0.0.1:2376")},
			headers:    map[string]string{"X-Project": ""},
			wantStatus: http.StatusBadRequest,
			wantCode:   cluster.CodeProjectRequired,
		},
		{
			name:       "missing body",
			wantStatus: http.StatusBadRequest,
			wantCode:   cluster.CodeBodyRequired,
		},
		{
			name:       "missing host",
			body:       &models.ClusterSpec{Name: "c1"},
			wantStatus: http.StatusBadRequest,
			wantCode:   cluster.CodeHostRequired,
		},
		{
			name:       "unknown type",
			body:       map[string]interface{}{"type": "MESOS", "createEmptyCluster": true},
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeValidation,
		},
		{
			name:       "malformed json",
			body:       json.RawMessage(`{"name": 1}`),
			wantStatus: http.StatusBadRequest,
			wantCode:   CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/clusters", tt.body, tt.headers)
			requireAPIError(t, rec, tt.wantStatus, tt.wantCode)
		})
	}
}

func TestCreateClusterRejectsNonJSON(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clusters", strings.NewReader("name=c1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Project", testProject)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestListClustersFilters(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	docker := env.createCluster(t, &models.ClusterSpec{HostState: dockerHostBody("https://10.0.0.1:2376")})
	vch := dockerHostBody("https://10.0.0.2:2376")
	vch.CustomProperties[models.PropHostType] = string(models.HostTypeScheduler)
	vch.CustomProperties[models.PropNumCores] = "4"
	single := env.createCluster(t, &models.ClusterSpec{Name: "vch", HostState: vch})
	assert.Equal(t, models.ClusterTypeSingleHost, single.Type)

	tests := []struct {
		name  string
		query url.Values
		want  []string
	}{
		{name: "all", query: url.Values{}, want: []string{docker.DocumentSelfLink, single.DocumentSelfLink}},
		{name: "docker only", query: url.Values{"type": {"DOCKER"}}, want: []string{docker.DocumentSelfLink}},
		{name: "not docker", query: url.Values{"type": {"!DOCKER"}}, want: []string{single.DocumentSelfLink}},
		{name: "zone filter", query: url.Values{"$filter": {"name eq 'vch'"}}, want: []string{single.DocumentSelfLink}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/api/v1/clusters?"+tt.query.Encode(), nil, nil)
			require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
			var list ClusterListResponse
			decode(t, rec, &list)
			assert.ElementsMatch(t, tt.want, list.DocumentLinks)
			assert.Equal(t, len(tt.want), list.TotalCount)
		})
	}

	rec := env.do(t, http.MethodGet, "/api/v1/clusters?"+url.Values{"$filter": {"name eq"}}.Encode(), nil, nil)
	requireAPIError(t, rec, http.StatusBadRequest, CodeInvalidFilter)

	// Another project sees nothing.
	rec = env.do(t, http.MethodGet, "/api/v1/clusters", nil, map[string]string{"X-Project": "/projects/p2"})
	require.Equal(t, http.StatusOK, rec.Code)
	var other ClusterListResponse
	decode(t, rec, &other)
	assert.Empty(t, other.DocumentLinks)
}

func TestClusterHosts(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	c := env.createCluster(t, &models.ClusterSpec{Name: "c1", CreateEmptyCluster: true})
	base := "/api/v1/clusters/" + c.ID + "/hosts"

	racks := map[string]string{
		"https://10.0.1.1:2376": "a",
		"https://10.0.1.2:2376": "a",
		"https://10.0.1.3:2376": "b",
	}
	var added []string
	for _, addr := range []string{"https://10.0.1.1:2376", "https://10.0.1.2:2376", "https://10.0.1.3:2376"} {
		h := dockerHostBody(addr)
		h.CustomProperties["rack"] = racks[addr]
		rec := env.do(t, http.MethodPost, base, &models.HostSpec{HostState: h}, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var host models.Host
		decode(t, rec, &host)
		require.NotEmpty(t, host.ID)
		assert.Equal(t, "/api/v1"+models.ClusterHostLink(c.ID, host.ID), rec.Header().Get("Location"))
		added = append(added, host.ID)
	}

	t.Run("paging", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base+"?$limit=2", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var page HostListResponse
		decode(t, rec, &page)
		assert.Equal(t, 2, page.DocumentCount)
		require.NotEmpty(t, page.NextPageLink)

		next, err := url.Parse(page.NextPageLink)
		require.NoError(t, err)
		assert.Equal(t, "2", next.Query().Get("$skip"))

		rec = env.do(t, http.MethodGet, page.NextPageLink, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var last HostListResponse
		decode(t, rec, &last)
		assert.Equal(t, 1, last.DocumentCount)
		assert.Empty(t, last.NextPageLink)

		var seen []string
		for _, p := range []HostListResponse{page, last} {
			for _, h := range p.Documents {
				seen = append(seen, h.ID)
			}
		}
		assert.ElementsMatch(t, added, seen)
	})

	t.Run("custom options", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base+"?"+url.Values{"customOptions": {"rack=a"}}.Encode(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var page HostListResponse
		decode(t, rec, &page)
		assert.Equal(t, 2, page.DocumentCount)

		rec = env.do(t, http.MethodGet, base+"?"+url.Values{"customOptions": {"rack"}}.Encode(), nil, nil)
		requireAPIError(t, rec, http.StatusBadRequest, CodeInvalidFilter)
	})

	t.Run("hosts filter", func(t *testing.T) {
		q := url.Values{"$hostsFilter": {"address eq 'https://10.0.1.3:2376'"}}
		rec := env.do(t, http.MethodGet, base+"?"+q.Encode(), nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var page HostListResponse
		decode(t, rec, &page)
		require.Equal(t, 1, page.DocumentCount)
		for _, h := range page.Documents {
			assert.Equal(t, "https://10.0.1.3:2376", h.Address)
		}
	})

	t.Run("get and remove", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, base+"/"+added[0], nil, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodDelete, base+"/"+added[0], nil, nil)
		require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

		rec = env.do(t, http.MethodGet, base+"/"+added[0], nil, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var dto models.ClusterDto
		decode(t, rec, &dto)
		assert.Len(t, dto.NodeLinks, 2)
	})

	t.Run("invalid host body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, base, &models.HostSpec{HostState: &models.Host{}}, nil)
		requireAPIError(t, rec, http.StatusBadRequest, CodeValidation)
	})

	t.Run("unknown cluster", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/clusters/cluster:missing/hosts", nil, nil)
		requireAPIError(t, rec, http.StatusNotFound, cluster.CodeClusterNotFound)
	})
}

func TestDeleteClusterAccepted(t *testing.T) {
	env := newTestEnv(t, envOptions{
		idleRemoval: true,
		mutate:      func(cfg *config.Config) { cfg.Cluster.DeleteWait = 20 * time.Millisecond },
	})
	c := env.createCluster(t, &models.ClusterSpec{HostState: dockerHostBody("https://10.0.0.1:2376")})

	rec := env.do(t, http.MethodDelete, "/api/v1/clusters/"+c.ID, nil, nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp TeardownResponse
	decode(t, rec, &resp)
	assert.Equal(t, c.ID, resp.ClusterID)
	assert.NotEmpty(t, resp.TaskID)
	assert.Equal(t, string(cluster.TeardownTaskSubmitted), resp.Stage)

	// The cluster is still there while the removal task runs.
	rec = env.do(t, http.MethodGet, "/api/v1/clusters/"+c.ID, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthentication(t *testing.T) {
	env := newTestEnv(t, envOptions{
		mutate: func(cfg *config.Config) { cfg.Security.AuthEnabled = true },
	})
	jwtService := auth.NewJWTService(env.cfg)
	token, err := jwtService.GenerateToken("ci", []string{testProject})
	require.NoError(t, err)
	bearer := "Bearer " + token

	rec := env.do(t, http.MethodGet, "/api/v1/clusters", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/clusters", nil, map[string]string{"Authorization": bearer})
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/clusters", nil, map[string]string{
		"Authorization": bearer,
		"X-Project":     "/projects/other",
	})
	requireAPIError(t, rec, http.StatusForbidden, CodeForbidden)

	// The only granted project applies when no header is sent.
	rec = env.do(t, http.MethodPost, "/api/v1/clusters", &models.ClusterSpec{Name: "c1", CreateEmptyCluster: true},
		map[string]string{"Authorization": bearer, "X-Project": ""})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var dto models.ClusterDto
	decode(t, rec, &dto)
	assert.Equal(t, []string{testProject}, dto.TenantLinks)

	// Health stays public.
	rec = env.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	header := http.Header{}
	header.Set("X-Project", testProject)
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.Eventually(t, func() bool { return env.srv.Hub().ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	c := env.createCluster(t, &models.ClusterSpec{Name: "c1", CreateEmptyCluster: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg EventMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, cluster.EventClusterCreated, msg.Type)
	assert.Equal(t, c.ID, msg.ClusterID)
	assert.False(t, msg.Timestamp.IsZero())
}
