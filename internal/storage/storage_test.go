package storage

import (
	"encoding/json"
	"testing"
	"time"

	"eve.evalgo.org/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/internal/query"
	"evalgo.org/stratum/models"
)

func TestHostSelector(t *testing.T) {
	sel := hostSelector(cluster.HostFilter{
		Query: models.HostQuery{
			ZoneID:     "cluster:1",
			Properties: map[string]string{models.PropHostType: "DOCKER"},
		},
		Project: "/projects/p1",
	})

	assert.Equal(t, map[string]interface{}{"$eq": TypeHost}, sel["@type"])
	assert.Equal(t, map[string]interface{}{"$eq": "cluster:1"}, sel["zoneId"])
	assert.Equal(t, map[string]interface{}{"$eq": "DOCKER"}, sel["customProperties.__containerHostType"])
	assert.Equal(t, map[string]interface{}{
		"$elemMatch": map[string]interface{}{"$eq": "/projects/p1"},
	}, sel["tenantLinks"])
}

func TestHostSelectorWithFilter(t *testing.T) {
	where, err := query.Parse("name eq 'docker-*'")
	require.NoError(t, err)

	sel := hostSelector(cluster.HostFilter{Where: where})
	and, ok := sel["$and"].([]interface{})
	require.True(t, ok, "expected $and, got %v", sel)
	require.Len(t, and, 2)
	assert.Equal(t, typed(TypeHost), and[0])
	assert.Contains(t, and[1], "name")
}

func TestCombine(t *testing.T) {
	base := typed(TypePlacementZone)
	assert.Equal(t, base, combine(base, nil))
	assert.Equal(t, base, combine(base, map[string]interface{}{}))
}

func TestProcessTaskChange(t *testing.T) {
	doc, err := json.Marshal(&models.RemovalTask{
		Type:    TypeRemovalTask,
		ID:      "removal:1",
		HostIDs: []string{"h1"},
		Stage:   models.TaskStageFinished,
	})
	require.NoError(t, err)

	change := processTaskChange(db.Change{ID: "removal:1", Seq: "7-abc", Doc: doc})
	require.NotNil(t, change)
	assert.Equal(t, ChangeTypeUpdated, change.Type)
	assert.Equal(t, models.TaskStageFinished, change.Task.Stage)
	assert.Equal(t, "7-abc", change.Sequence)

	deleted := processTaskChange(db.Change{ID: "removal:1", Deleted: true})
	require.NotNil(t, deleted)
	assert.Equal(t, ChangeTypeDeleted, deleted.Type)
	assert.Equal(t, "removal:1", deleted.Task.ID)

	assert.Nil(t, processTaskChange(db.Change{ID: "x", Doc: []byte("{not json")}))
}

func TestFeedBackoff(t *testing.T) {
	tests := []struct {
		name     string
		current  time.Duration
		ran      time.Duration
		wantWait time.Duration
		wantNext time.Duration
	}{
		{"immediate failure grows", time.Second, 10 * time.Millisecond, time.Second, 2 * time.Second},
		{"repeated failures grow", 8 * time.Second, time.Second, 8 * time.Second, 16 * time.Second},
		{"growth is capped", 30 * time.Second, time.Second, 30 * time.Second, 30 * time.Second},
		{"long lived feed resets", 30 * time.Second, 5 * time.Minute, time.Second, 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wait, next := feedBackoff(tt.current, tt.ran)
			assert.Equal(t, tt.wantWait, wait)
			assert.Equal(t, tt.wantNext, next)
		})
	}
}
