package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestParseClusterType(t *testing.T) {
	tests := []struct {
		in     string
		want   ClusterType
		wantOK bool
	}{
		{"DOCKER", ClusterTypeDocker, true},
		{"single_host", ClusterTypeSingleHost, true},
		{" Kubernetes ", ClusterTypeKubernetes, true},
		{"VCH", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParseClusterType(tt.in)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseClusterType(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestClusterTypeRules(t *testing.T) {
	tests := []struct {
		typ              ClusterType
		singleHost       bool
		requiresTeardown bool
	}{
		{ClusterTypeDocker, false, true},
		{ClusterTypeSingleHost, true, false},
		{ClusterTypeKubernetes, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.SingleHostOnly(); got != tt.singleHost {
				t.Errorf("SingleHostOnly() = %v, want %v", got, tt.singleHost)
			}
			if got := tt.typ.RequiresTeardown(); got != tt.requiresTeardown {
				t.Errorf("RequiresTeardown() = %v, want %v", got, tt.requiresTeardown)
			}
		})
	}

	if got := ClusterTypeForHost(HostTypeScheduler); got != ClusterTypeSingleHost {
		t.Errorf("ClusterTypeForHost(SCHEDULER) = %v", got)
	}
	if got := ClusterTypeForHost(HostTypeKubernetes); got != ClusterTypeKubernetes {
		t.Errorf("ClusterTypeForHost(KUBERNETES) = %v", got)
	}
	if got := ClusterTypeForHost(""); got != ClusterTypeDocker {
		t.Errorf("ClusterTypeForHost(\"\") = %v", got)
	}
}

func TestParseClusterStatus(t *testing.T) {
	if st, ok := ParseClusterStatus("disabled"); !ok || st != ClusterStatusDisabled {
		t.Errorf("ParseClusterStatus(disabled) = %v, %v", st, ok)
	}
	if _, ok := ParseClusterStatus("SLEEPING"); ok {
		t.Error("ParseClusterStatus(SLEEPING) should fail")
	}
}

func TestClusterLinks(t *testing.T) {
	if got := ClusterSelfLink("c1"); got != "/clusters/c1" {
		t.Errorf("ClusterSelfLink = %v", got)
	}
	if got := ClusterHostLink("c1", "h1"); got != "/clusters/c1/hosts/h1" {
		t.Errorf("ClusterHostLink = %v", got)
	}
}

func TestHostExposed(t *testing.T) {
	docker := &Host{
		ID:               "host:1",
		Name:             "docker-01",
		Address:          "https://10.0.0.4:2376",
		PowerState:       PowerStateOn,
		ZoneID:           "cluster:1",
		TenantLinks:      []string{"/projects/p1"},
		CustomProperties: map[string]string{PropAdapterType: "API"},
	}

	reduced := docker.Exposed()
	if reduced.ID != "host:1" || reduced.Address != docker.Address || reduced.PowerState != PowerStateOn {
		t.Errorf("Exposed() lost identity fields: %+v", reduced)
	}
	if reduced.CustomProperties != nil || reduced.TenantLinks != nil || reduced.ZoneID != "" {
		t.Errorf("Exposed() of a docker host should be reduced, got %+v", reduced)
	}

	raw, err := json.Marshal(reduced)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"@id":"host:1"`) {
		t.Errorf("reduced host JSON = %s, want @id", raw)
	}

	scheduler := docker.Clone()
	scheduler.CustomProperties[PropHostType] = string(HostTypeScheduler)
	full := scheduler.Exposed()
	if full.CustomProperties[PropAdapterType] != "API" || full.ZoneID != "cluster:1" {
		t.Errorf("Exposed() of a scheduler host should be full, got %+v", full)
	}

	full.CustomProperties["x"] = "y"
	if _, ok := scheduler.CustomProperties["x"]; ok {
		t.Error("Exposed() shares the property map with the original")
	}
}

func TestHostProperties(t *testing.T) {
	h := &Host{CustomProperties: map[string]string{
		PropContainerCount: "12",
		PropNumCores:       "four",
	}}

	if got := h.IntProperty(PropContainerCount); got != 12 {
		t.Errorf("IntProperty(containers) = %v, want 12", got)
	}
	if got := h.IntProperty(PropNumCores); got != 0 {
		t.Errorf("IntProperty(malformed) = %v, want 0", got)
	}
	if got := h.HostType(); got != HostTypeDocker {
		t.Errorf("HostType() = %v, want DOCKER default", got)
	}

	var nilHost *Host
	if _, ok := nilHost.Property("x"); ok {
		t.Error("Property on nil host should report absent")
	}
	if nilHost.Clone() != nil {
		t.Error("Clone of nil host should be nil")
	}
}

func TestZoneHelpers(t *testing.T) {
	z := &PlacementZone{
		TenantLinks: []string{"/projects/p1"},
		CustomProperties: map[string]string{
			PropZoneAvailableMemory: "2048",
			PropZoneCPUUsage:        "0.25",
		},
	}

	if !z.InProject("/projects/p1") || z.InProject("/projects/p2") || z.InProject("") {
		t.Error("InProject() mismatch")
	}
	if got := z.Int64Property(PropZoneAvailableMemory); got != 2048 {
		t.Errorf("Int64Property = %v", got)
	}
	if got := z.FloatProperty(PropZoneCPUUsage); got != 0.25 {
		t.Errorf("FloatProperty = %v", got)
	}
	if got := z.FloatProperty("missing"); got != 0 {
		t.Errorf("FloatProperty(missing) = %v", got)
	}
}

func TestHostQueryMatches(t *testing.T) {
	q := HostQuery{ZoneID: "cluster:1", Properties: map[string]string{"rack": "a"}}

	tests := []struct {
		name string
		host *Host
		want bool
	}{
		{"match", &Host{ZoneID: "cluster:1", CustomProperties: map[string]string{"rack": "a"}}, true},
		{"other zone", &Host{ZoneID: "cluster:2", CustomProperties: map[string]string{"rack": "a"}}, false},
		{"property differs", &Host{ZoneID: "cluster:1", CustomProperties: map[string]string{"rack": "b"}}, false},
		{"property missing", &Host{ZoneID: "cluster:1"}, false},
		{"nil host", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := q.Matches(tt.host); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemovalTask(t *testing.T) {
	if HostSetKey([]string{"b", "a"}) != HostSetKey([]string{"a", "b"}) {
		t.Error("HostSetKey should not depend on order")
	}

	for stage, terminal := range map[TaskStage]bool{
		TaskStageRunning:   false,
		TaskStageFinished:  true,
		TaskStageFailed:    true,
		TaskStageCancelled: true,
	} {
		if stage.IsTerminal() != terminal {
			t.Errorf("%s.IsTerminal() = %v", stage, !terminal)
		}
	}

	task := &RemovalTask{HostIDs: []string{"a"}, Processed: []string{"a"}}
	c := task.Clone()
	c.HostIDs[0] = "z"
	if task.HostIDs[0] != "a" {
		t.Error("Clone shares HostIDs")
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("cluster")
	if !strings.HasPrefix(id, "cluster:") || len(id) != len("cluster:")+36 {
		t.Errorf("GenerateID = %v", id)
	}
	if GenerateID("cluster") == id {
		t.Error("GenerateID should be unique")
	}
}
