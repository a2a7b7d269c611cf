package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/stratum/internal/cluster"
)

func TestHubDeliversByProject(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	mine := &Client{hub: hub, send: make(chan []byte, 4), project: "/projects/p1"}
	other := &Client{hub: hub, send: make(chan []byte, 4), project: "/projects/p2"}
	all := &Client{hub: hub, send: make(chan []byte, 4)}
	for _, c := range []*Client{mine, other, all} {
		hub.register <- c
	}
	require.Equal(t, 3, hub.ClientCount())

	hub.Publish(cluster.Event{
		Type:        cluster.EventClusterRemoved,
		ClusterID:   "cluster:1",
		TenantLinks: []string{"/projects/p1"},
	})

	for _, c := range []*Client{mine, all} {
		select {
		case raw := <-c.send:
			var msg EventMessage
			require.NoError(t, json.Unmarshal(raw, &msg))
			assert.Equal(t, cluster.EventClusterRemoved, msg.Type)
			assert.Equal(t, "cluster:1", msg.ClusterID)
		case <-time.After(2 * time.Second):
			t.Fatalf("client %q got no event", c.project)
		}
	}

	select {
	case raw := <-other.send:
		t.Fatalf("client of another project got %s", raw)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	<-hub.done
	_, open := <-mine.send
	assert.False(t, open)
	assert.Zero(t, hub.ClientCount())
}
