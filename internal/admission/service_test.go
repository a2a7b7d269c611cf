package admission_test

import (
	"context"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/internal/admission"
	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/storage/memory"
	"evalgo.org/stratum/models"
)

// daemon answers the container engine ping endpoint.
func daemon() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/_ping") {
			w.Header().Set("API-Version", "1.47")
			w.Header().Set("OSType", "linux")
			w.WriteHeader(http.StatusOK)
			fmt.Fprint(w, "OK")
			return
		}
		http.NotFound(w, r)
	})
}

func hostAt(address string) *models.Host {
	return &models.Host{
		Address:          address,
		ZoneID:           "cluster:1",
		TenantLinks:      []string{"/projects/p1"},
		CustomProperties: map[string]string{models.PropAdapterType: "API"},
	}
}

func str(s string) *string { return &s }

func TestAdmitValidation(t *testing.T) {
	svc := admission.New(memory.New(), memory.New(), admission.Config{}, nil)

	tests := []struct {
		name string
		host *models.Host
	}{
		{name: "nil host", host: nil},
		{name: "missing address", host: &models.Host{CustomProperties: map[string]string{models.PropAdapterType: "API"}}},
		{name: "bad scheme", host: &models.Host{Address: "ftp://h1", CustomProperties: map[string]string{models.PropAdapterType: "API"}}},
		{name: "missing adapter type", host: &models.Host{Address: "https://h1:2376"}},
		{name: "unknown adapter type", host: &models.Host{Address: "https://h1:2376", CustomProperties: map[string]string{models.PropAdapterType: "NOPE"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: tt.host})
			require.Equal(t, cluster.AdmissionFailed, res.Outcome)
			e, ok := cluster.AsError(res.Err)
			require.True(t, ok)
			assert.Equal(t, cluster.KindValidation, e.Kind)
			assert.Equal(t, cluster.CodeInvalidHost, e.Code)
			assert.Nil(t, e.Err)
		})
	}
}

func TestAdmitWithoutConnectionCheck(t *testing.T) {
	store := memory.New()
	svc := admission.New(store, store, admission.Config{}, nil)

	host := hostAt("https://10.0.0.1:2376")
	host.ID = "host-fixed"
	res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: host})
	require.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)
	assert.Equal(t, "host-fixed", res.Host.ID)
	assert.Equal(t, models.PowerStateOn, res.Host.PowerState)

	stored, err := store.GetHost(context.Background(), "host-fixed")
	require.NoError(t, err)
	assert.Equal(t, "cluster:1", stored.ZoneID)

	again := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: host})
	assert.Equal(t, cluster.AdmissionFailed, again.Outcome)
}

func TestAdmitGeneratesID(t *testing.T) {
	store := memory.New()
	svc := admission.New(store, store, admission.Config{}, nil)

	res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: hostAt("10.0.0.2")})
	require.Equal(t, cluster.AdmissionCreated, res.Outcome)
	assert.True(t, strings.HasPrefix(res.Host.ID, "host:"))
}

func TestAdmitReplaceMergesProperties(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	require.NoError(t, store.SaveHost(ctx, &models.Host{
		ID:      "h1",
		Address: "https://10.0.0.1:2376",
		CustomProperties: map[string]string{
			models.PropAdapterType: "API",
			models.PropNumCores:    "8",
			models.PropHostAlias:   "old-alias",
		},
	}))
	svc := admission.New(store, store, admission.Config{}, nil)

	host := hostAt("https://10.0.0.1:2376")
	host.ID = "h1"
	res := svc.Admit(ctx, cluster.AdmissionRequest{
		Host:    host,
		Replace: true,
		Properties: map[string]*string{
			models.PropHostAlias:     nil,
			models.PropPublicAddress: str("203.0.113.7"),
		},
	})
	require.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)

	stored, err := store.GetHost(ctx, "h1")
	require.NoError(t, err)
	assert.Equal(t, "8", stored.CustomProperties[models.PropNumCores])
	assert.Equal(t, "203.0.113.7", stored.CustomProperties[models.PropPublicAddress])
	assert.NotContains(t, stored.CustomProperties, models.PropHostAlias)
}

func TestAdmitCertificateTrustRoundTrip(t *testing.T) {
	srv := httptest.NewTLSServer(daemon())
	defer srv.Close()

	ctx := context.Background()
	store := memory.New()
	svc := admission.New(store, store, admission.Config{VerifyConnection: true, ConnectTimeout: 5 * time.Second}, nil)

	res := svc.Admit(ctx, cluster.AdmissionRequest{Host: hostAt(srv.URL)})
	require.Equal(t, cluster.AdmissionNeedsTrust, res.Outcome, "%v", res.Err)
	require.NotNil(t, res.Certificate)
	assert.Equal(t, admission.Fingerprint(srv.Certificate()), res.Certificate.Fingerprint)
	assert.Contains(t, res.Certificate.Certificate, "BEGIN CERTIFICATE")

	hosts, err := store.ListHosts(ctx, cluster.HostFilter{})
	require.NoError(t, err)
	assert.Empty(t, hosts)

	res = svc.Admit(ctx, cluster.AdmissionRequest{Host: hostAt(srv.URL), AcceptCertificate: true})
	require.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)

	trusted, err := store.GetTrustedCertificate(ctx, admission.Fingerprint(srv.Certificate()))
	require.NoError(t, err)
	assert.Equal(t, models.TrustedCertificateID(trusted.Fingerprint), trusted.ID)

	// A trusted certificate is not challenged again.
	res = svc.Admit(ctx, cluster.AdmissionRequest{Host: hostAt(srv.URL)})
	assert.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)
}

func TestAdmitTrustsConfiguredAuthority(t *testing.T) {
	srv := httptest.NewTLSServer(daemon())
	defer srv.Close()

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	block := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw})
	require.NoError(t, os.WriteFile(caFile, block, 0o600))

	store := memory.New()
	svc := admission.New(store, store, admission.Config{VerifyConnection: true, CAFile: caFile}, nil)

	res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: hostAt(srv.URL)})
	assert.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)
}

func TestAdmitPlainHTTPDaemon(t *testing.T) {
	srv := httptest.NewServer(daemon())
	defer srv.Close()

	store := memory.New()
	svc := admission.New(store, store, admission.Config{VerifyConnection: true}, nil)

	res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: hostAt(srv.URL)})
	assert.Equal(t, cluster.AdmissionCreated, res.Outcome, "%v", res.Err)
}

func TestAdmitUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(daemon())
	address := srv.URL
	srv.Close()

	store := memory.New()
	svc := admission.New(store, store, admission.Config{VerifyConnection: true, ConnectTimeout: time.Second}, nil)

	res := svc.Admit(context.Background(), cluster.AdmissionRequest{Host: hostAt(address)})
	require.Equal(t, cluster.AdmissionFailed, res.Outcome)
	assert.False(t, cluster.IsKind(res.Err, cluster.KindValidation))
}
