package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/models"
)

func TestNew(t *testing.T) {
	v := New()
	assert.NotNil(t, v)
	assert.NotNil(t, v.structValidator)
}

func TestValidateClusterSpec(t *testing.T) {
	v := New()

	tests := []struct {
		name   string
		spec   *models.ClusterSpec
		valid  bool
		fields []string
	}{
		{
			name:   "nil body",
			spec:   nil,
			fields: []string{"body"},
		},
		{
			name: "docker host",
			spec: &models.ClusterSpec{
				Name:      "prod",
				Type:      models.ClusterTypeDocker,
				HostState: &models.Host{Address: "https://10.0.0.4:2376"},
			},
			valid: true,
		},
		{
			name:  "empty cluster",
			spec:  &models.ClusterSpec{CreateEmptyCluster: true},
			valid: true,
		},
		{
			name:   "unknown type",
			spec:   &models.ClusterSpec{Type: "SWARM"},
			fields: []string{"type"},
		},
		{
			name:   "unknown status",
			spec:   &models.ClusterSpec{Status: "BROKEN"},
			fields: []string{"status"},
		},
		{
			name:   "name too long",
			spec:   &models.ClusterSpec{Name: strings.Repeat("n", 257)},
			fields: []string{"name"},
		},
		{
			name:   "host without address",
			spec:   &models.ClusterSpec{HostState: &models.Host{}},
			fields: []string{"hostState.address"},
		},
		{
			name:   "host with unsupported scheme",
			spec:   &models.ClusterSpec{HostState: &models.Host{Address: "ftp://10.0.0.4"}},
			fields: []string{"hostState.address"},
		},
		{
			name: "host with unknown host type",
			spec: &models.ClusterSpec{HostState: &models.Host{
				Address:          "10.0.0.4",
				CustomProperties: map[string]string{models.PropHostType: "VM"},
			}},
			fields: []string{"hostState.customProperties.__containerHostType"},
		},
		{
			name: "host with unknown power state",
			spec: &models.ClusterSpec{HostState: &models.Host{
				Address:    "10.0.0.4:2375",
				PowerState: "HALF",
			}},
			fields: []string{"hostState.powerState"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateClusterSpec(tt.spec)
			require.NotNil(t, result)
			assert.Equal(t, tt.valid, result.Valid)
			for _, f := range tt.fields {
				assert.Contains(t, result.FieldErrors(), f)
			}
		})
	}
}

func TestValidateHostSpec(t *testing.T) {
	v := New()

	result := v.ValidateHostSpec(&models.HostSpec{})
	assert.False(t, result.Valid)
	assert.Equal(t, "hostState is required", result.FieldErrors()["hostState"])

	result = v.ValidateHostSpec(&models.HostSpec{HostState: &models.Host{Address: "tcp://docker:2375"}})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Nil(t, result.FieldErrors())
}
