// Package collab keeps a notebook in sync across clients by broadcasting full
// document snapshots over a second duplex channel. The merge policy is
// intentionally last-writer-wins at whole-document granularity; actor identity
// is only used to suppress a client's own echo.
package collab

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/document"
	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
	"github.com/inkwell-ai/inkwell/pkg/ws"
)

type collabSocket = ws.Websocket[protocol.CollabFrame, protocol.CollabFrame]

// Hooks are the synchronizer's optional outbound wiring.
type Hooks struct {
	// ActiveCell reports which cell, if any, is focused locally; announced as
	// presence when the channel connects.
	ActiveCell func() *model.CellID
	// OnPresence receives peers' presence announcements.
	OnPresence func(actor model.ActorID, cellID *model.CellID)
}

// Synchronizer owns the collaboration channel for one notebook. Its lifecycle
// is fully independent of the kernel channel; closing one never closes the
// other.
type Synchronizer struct {
	mu  sync.Mutex
	log *logrus.Entry

	store      *document.Store
	cli        *api.Client
	notebookID model.NotebookID
	actorID    model.ActorID
	hooks      Hooks

	sock     atomic.Pointer[collabSocket]
	pumpDone chan struct{}
}

// NewSynchronizer builds a synchronizer identified by the given actor id.
func NewSynchronizer(
	store *document.Store, cli *api.Client, notebookID model.NotebookID,
	actorID model.ActorID, hooks Hooks,
) *Synchronizer {
	return &Synchronizer{
		log: logrus.WithFields(logrus.Fields{
			"component": "collab-sync",
			"notebook":  notebookID,
			"actor":     actorID,
		}),
		store:      store,
		cli:        cli,
		notebookID: notebookID,
		actorID:    actorID,
		hooks:      hooks,
	}
}

// ActorID returns the local client's collaboration identity.
func (s *Synchronizer) ActorID() model.ActorID {
	return s.actorID
}

// Open dials the collaboration channel, requests the current snapshot, and
// announces presence if a cell is active locally.
func (s *Synchronizer) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sock.Load() != nil {
		return nil
	}

	sock, err := s.cli.OpenCollabChannel(s.notebookID)
	if err != nil {
		return errors.Wrap(err, "opening collaboration channel")
	}
	s.sock.Store(sock)
	s.pumpDone = make(chan struct{})
	go s.runReadPump(sock, s.pumpDone)

	s.trySend(protocol.CollabFrame{RequestState: &protocol.RequestState{}})
	if s.hooks.ActiveCell != nil {
		if cellID := s.hooks.ActiveCell(); cellID != nil {
			s.Presence(cellID)
		}
	}
	return nil
}

// Close tears down the channel.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	sock := s.sock.Swap(nil)
	if sock == nil {
		return
	}
	if err := sock.Close(); err != nil {
		s.log.WithError(err).Warn("closing collaboration channel")
	}
	<-s.pumpDone
}

// Connected reports whether the collaboration channel is open.
func (s *Synchronizer) Connected() bool {
	return s.sock.Load() != nil
}

// Hook returns the store hook broadcasting every non-suppressed mutation as an
// update frame carrying the new document and the local actor id.
func (s *Synchronizer) Hook() document.UpdateHook {
	return func(snapshot *model.Notebook, _ document.UpdateOptions, suppressed bool) {
		if suppressed {
			return
		}
		s.trySend(protocol.CollabFrame{Update: &protocol.Update{
			Notebook: snapshot,
			ActorID:  s.actorID,
		}})
	}
}

// Presence announces the locally active cell. Best-effort and fire-and-forget;
// failures are logged, never surfaced.
func (s *Synchronizer) Presence(cellID *model.CellID) {
	s.trySend(protocol.CollabFrame{Presence: &protocol.Presence{
		CellID:  cellID,
		ActorID: s.actorID,
	}})
}

// HandleFrame applies one inbound collaboration frame.
func (s *Synchronizer) HandleFrame(frame protocol.CollabFrame) {
	switch {
	case frame.State != nil:
		if frame.State.Notebook == nil {
			return
		}
		s.store.Replace(frame.State.Notebook)
	case frame.Update != nil:
		s.handleUpdate(*frame.Update)
	case frame.RequestState != nil:
		// A peer asked for the current snapshot.
		s.trySend(protocol.CollabFrame{State: &protocol.State{
			Notebook: s.store.Snapshot(),
		}})
	case frame.Presence != nil:
		if s.hooks.OnPresence != nil {
			s.hooks.OnPresence(frame.Presence.ActorID, frame.Presence.CellID)
		}
	default:
		s.log.Trace("ignoring unrecognized collaboration frame")
	}
}

// handleUpdate applies a broadcast mutation. An update originated by this
// client is an echo of a save it triggered itself: only the server-confirmed
// top-level fields are merged, and the locally-held cell array is preserved,
// since the echoed copy may already be stale against newer local edits. A
// genuine remote edit replaces the whole document.
func (s *Synchronizer) handleUpdate(update protocol.Update) {
	if update.Notebook == nil {
		return
	}
	if update.ActorID != s.actorID {
		s.store.Replace(update.Notebook)
		return
	}

	incoming := update.Notebook
	s.store.Suppress(func() {
		s.store.Update(func(cur *model.Notebook) {
			cur.Name = incoming.Name
			cur.Published = incoming.Published
			cur.CreatedAt = incoming.CreatedAt
			cur.UpdatedAt = incoming.UpdatedAt
		}, document.UpdateOptions{NoPersist: true, NoTouch: true})
	})
	s.store.ClearDirty()
}

func (s *Synchronizer) runReadPump(sock *collabSocket, done chan struct{}) {
	defer close(done)
	for frame := range sock.Inbox {
		s.HandleFrame(frame)
	}
	if err := sock.Error(); err != nil {
		s.log.WithError(err).Warn("collaboration channel closed with error")
	}
	s.sock.CompareAndSwap(sock, nil)
}

func (s *Synchronizer) trySend(frame protocol.CollabFrame) {
	sock := s.sock.Load()
	if sock == nil {
		return
	}
	select {
	case sock.Outbox <- frame:
	case <-sock.Done:
		s.log.Debug("dropping collaboration frame; channel closed")
	}
}
