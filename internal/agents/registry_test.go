package agents

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breachline/breachline/internal/model"
	"github.com/breachline/breachline/internal/testutil"
)

func newTestRegistry() (*Registry, *testutil.MemStore) {
	store := testutil.NewMemStore()
	return NewRegistry(store, 90*time.Second, slog.New(slog.DiscardHandler)), store
}

func TestRegisterAndGet(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	agent, err := reg.Register(ctx, model.Agent{
		Paw: "lin-1", Hostname: "web01", Platform: "linux", Executors: []string{"sh"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, agent.Status)
	assert.False(t, agent.LastSeen.IsZero())

	got, err := reg.Get(ctx, "lin-1")
	require.NoError(t, err)
	assert.Equal(t, "web01", got.Hostname)
}

func TestRegisterInvalidPaw(t *testing.T) {
	reg, _ := newTestRegistry()

	_, err := reg.Register(context.Background(), model.Agent{Paw: "has spaces"})
	assert.Error(t, err)

	_, err = reg.Register(context.Background(), model.Agent{Paw: ""})
	assert.Error(t, err)
}

func TestReRegisterUpdatesInPlace(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, model.Agent{Paw: "lin-1", Hostname: "old"})
	require.NoError(t, err)
	_, err = reg.Register(ctx, model.Agent{Paw: "lin-1", Hostname: "new"})
	require.NoError(t, err)

	agents, err := reg.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, "new", agents[0].Hostname)
}

func TestHeartbeatUnknownAgent(t *testing.T) {
	reg, _ := newTestRegistry()
	err := reg.Heartbeat(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAgentNotFound)
}

func TestHeartbeatBringsAgentBackOnline(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, model.Agent{Paw: "lin-1"})
	require.NoError(t, err)
	require.NoError(t, reg.MarkOffline(ctx, "lin-1"))

	require.NoError(t, reg.Heartbeat(ctx, "lin-1"))
	agent, err := reg.Get(ctx, "lin-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentOnline, agent.Status)
}

func TestSweepMarksStaleAgents(t *testing.T) {
	store := testutil.NewMemStore()
	reg := NewRegistry(store, 0, slog.New(slog.DiscardHandler)) // everything is stale
	ctx := context.Background()

	_, err := reg.Register(ctx, model.Agent{Paw: "lin-1"})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	paws, err := reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lin-1"}, paws)

	agent, err := reg.Get(ctx, "lin-1")
	require.NoError(t, err)
	assert.Equal(t, model.AgentOffline, agent.Status)

	// A second sweep finds nothing new.
	paws, err = reg.Sweep(ctx)
	require.NoError(t, err)
	assert.Empty(t, paws)
}

func TestListFiltersByStatus(t *testing.T) {
	reg, _ := newTestRegistry()
	ctx := context.Background()

	_, err := reg.Register(ctx, model.Agent{Paw: "a-1"})
	require.NoError(t, err)
	_, err = reg.Register(ctx, model.Agent{Paw: "b-2"})
	require.NoError(t, err)
	require.NoError(t, reg.MarkOffline(ctx, "b-2"))

	online, err := reg.List(ctx, model.AgentOnline)
	require.NoError(t, err)
	require.Len(t, online, 1)
	assert.Equal(t, "a-1", online[0].Paw)

	all, err := reg.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
