package collab

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/internal/document"
	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
	"github.com/inkwell-ai/inkwell/pkg/ptrs"
)

func setupSynchronizer(t *testing.T) (*Synchronizer, *document.Store) {
	t.Helper()
	store := document.NewStore(&model.Notebook{
		ID:   "nb1",
		Name: "local",
		Cells: []model.Cell{
			{ID: "c1", Code: &model.CodeCell{Source: "local edit"}},
		},
	})
	s := NewSynchronizer(store, nil, "nb1", "me", Hooks{})
	store.AddHook(s.Hook())
	return s, store
}

func TestStateFrameReplacesDocument(t *testing.T) {
	s, store := setupSynchronizer(t)
	store.Update(func(nb *model.Notebook) { nb.Name = "dirtying edit" }, document.UpdateOptions{})
	require.True(t, store.Dirty())

	s.HandleFrame(protocol.CollabFrame{State: &protocol.State{
		Notebook: &model.Notebook{ID: "nb1", Name: "server copy", Cells: []model.Cell{}},
	}})

	snap := store.Snapshot()
	require.Equal(t, "server copy", snap.Name)
	require.Empty(t, snap.Cells)
	require.False(t, store.Dirty())
}

func TestRemoteUpdateReplacesDocument(t *testing.T) {
	s, store := setupSynchronizer(t)

	s.HandleFrame(protocol.CollabFrame{Update: &protocol.Update{
		ActorID: "someone-else",
		Notebook: &model.Notebook{
			ID:   "nb1",
			Name: "their title",
			Cells: []model.Cell{
				{ID: "c1", Code: &model.CodeCell{Source: "their edit"}},
			},
		},
	}})

	snap := store.Snapshot()
	require.Equal(t, "their title", snap.Name)
	require.Equal(t, "their edit", snap.Cells[0].Code.Source)
}

func TestOwnEchoMergesTopLevelOnly(t *testing.T) {
	s, store := setupSynchronizer(t)
	serverTime := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	// The echo carries a stale cell body; only the server-confirmed top-level
	// fields may land.
	s.HandleFrame(protocol.CollabFrame{Update: &protocol.Update{
		ActorID: "me",
		Notebook: &model.Notebook{
			ID:        "nb1",
			Name:      "renamed on server",
			Published: true,
			UpdatedAt: serverTime,
			Cells: []model.Cell{
				{ID: "c1", Code: &model.CodeCell{Source: "stale echoed source"}},
			},
		},
	}})

	snap := store.Snapshot()
	require.Equal(t, "renamed on server", snap.Name)
	require.True(t, snap.Published)
	require.Equal(t, serverTime, snap.UpdatedAt)
	require.Equal(t, "local edit", snap.Cells[0].Code.Source)
	require.False(t, store.Dirty())
}

func TestInboundFramesAreNotRebroadcast(t *testing.T) {
	s, store := setupSynchronizer(t)
	var unsuppressed int
	store.AddHook(func(_ *model.Notebook, _ document.UpdateOptions, suppressed bool) {
		if !suppressed {
			unsuppressed++
		}
	})

	s.HandleFrame(protocol.CollabFrame{State: &protocol.State{
		Notebook: &model.Notebook{ID: "nb1", Name: "v1"},
	}})
	s.HandleFrame(protocol.CollabFrame{Update: &protocol.Update{
		ActorID:  "someone-else",
		Notebook: &model.Notebook{ID: "nb1", Name: "v2"},
	}})
	s.HandleFrame(protocol.CollabFrame{Update: &protocol.Update{
		ActorID:  "me",
		Notebook: &model.Notebook{ID: "nb1", Name: "v3"},
	}})

	require.Zero(t, unsuppressed)
}

func TestPresenceFrameSurfacesThroughHook(t *testing.T) {
	store := document.NewStore(&model.Notebook{ID: "nb1"})
	var gotActor model.ActorID
	var gotCell *model.CellID
	s := NewSynchronizer(store, nil, "nb1", "me", Hooks{
		OnPresence: func(actor model.ActorID, cellID *model.CellID) {
			gotActor, gotCell = actor, cellID
		},
	})

	s.HandleFrame(protocol.CollabFrame{Presence: &protocol.Presence{
		ActorID: "peer",
		CellID:  ptrs.Ptr(model.CellID("c2")),
	}})

	require.Equal(t, model.ActorID("peer"), gotActor)
	require.NotNil(t, gotCell)
	require.Equal(t, model.CellID("c2"), *gotCell)
}

func TestNilAndUnknownFramesAreNoOps(t *testing.T) {
	s, store := setupSynchronizer(t)
	before := store.Snapshot()

	s.HandleFrame(protocol.CollabFrame{})
	s.HandleFrame(protocol.CollabFrame{State: &protocol.State{}})
	s.HandleFrame(protocol.CollabFrame{Update: &protocol.Update{ActorID: "x"}})

	require.Equal(t, before.Name, store.Snapshot().Name)
}
