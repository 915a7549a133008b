// Package autosave debounces persistence of the document and tracks cells
// whose durable identity must be confirmed by the storage layer before a
// dependent backend may attach to them.
package autosave

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/document"
	"github.com/inkwell-ai/inkwell/pkg/model"
)

// DefaultInterval is the debounce window between a mutation and its save.
const DefaultInterval = 300 * time.Millisecond

// Saver persists the document to durable storage, debounced, and reconciles
// the pending-persistence set against save responses.
type Saver struct {
	mu  sync.Mutex
	log *logrus.Entry

	store      *document.Store
	cli        *api.Client
	notebookID model.NotebookID
	interval   time.Duration

	timer   *time.Timer
	pending map[model.CellID]bool
	lastErr error

	// onError surfaces persistence failures; the document stays dirty until
	// the next successful save.
	onError func(error)
	// onWarning surfaces the scoped, retryable "still syncing" condition for
	// pending cells. It never blocks editing.
	onWarning func(error)
}

// NewSaver builds a saver. Hook registration on the store is the engine's
// responsibility (via the Hook method), keeping construction side-effect free.
func NewSaver(
	store *document.Store, cli *api.Client, notebookID model.NotebookID,
	onError, onWarning func(error),
) *Saver {
	return &Saver{
		log: logrus.WithFields(logrus.Fields{
			"component": "autosave",
			"notebook":  notebookID,
		}),
		store:      store,
		cli:        cli,
		notebookID: notebookID,
		interval:   DefaultInterval,
		pending:    map[model.CellID]bool{},
		onError:    onError,
		onWarning:  onWarning,
	}
}

// SetInterval overrides the debounce window; tests shrink it.
func (s *Saver) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// Hook returns the store hook that schedules a debounced save after every
// persist-mutation.
func (s *Saver) Hook() document.UpdateHook {
	return func(_ *model.Notebook, opts document.UpdateOptions, _ bool) {
		if opts.NoPersist {
			return
		}
		s.Schedule()
	}
}

// Schedule (re)starts the debounce timer; consecutive mutations inside the
// window collapse into one save.
func (s *Saver) Schedule() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.interval, func() {
		if err := s.SaveNow(context.Background()); err != nil {
			s.log.WithError(err).Error("autosave failed")
		}
	})
}

// SaveNow cancels any scheduled save and persists immediately. Used before
// operations that require the backing store to already contain a referenced
// cell.
func (s *Saver) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	snapshot := s.store.Snapshot()
	saved, err := s.cli.SaveNotebook(ctx, s.notebookID, api.SavePayload{
		Name:        snapshot.Name,
		Environment: snapshot.Environment,
		Cells:       snapshot.Cells,
	})
	if err != nil {
		s.setLastErr(err)
		if s.onError != nil {
			s.onError(err)
		}
		return err
	}

	s.setLastErr(nil)
	s.store.ClearDirty()
	s.reconcile(saved)
	return nil
}

// TrackPending registers a freshly created cell whose durable identity must be
// confirmed, and issues an immediate out-of-band save. The response is
// inspected for the cell; when it is missing the id stays pending and a
// non-fatal warning is surfaced, without blocking further edits.
func (s *Saver) TrackPending(ctx context.Context, cellID model.CellID) {
	s.mu.Lock()
	s.pending[cellID] = true
	s.mu.Unlock()

	if err := s.SaveNow(ctx); err != nil {
		s.warn(errors.Wrapf(err, "cell %s is still syncing", cellID))
		return
	}
	if s.IsPending(cellID) {
		s.warn(errors.Errorf("cell %s is still syncing", cellID))
	}
}

// IsPending reports whether the cell's durable identity is still unconfirmed.
func (s *Saver) IsPending(cellID model.CellID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[cellID]
}

// LastError returns the most recent persistence failure, cleared by the next
// successful save.
func (s *Saver) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Stop cancels any scheduled save.
func (s *Saver) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// reconcile clears pending ids that appear in the persisted cell list.
func (s *Saver) reconcile(saved *model.Notebook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.pending {
		if saved.CellIndex(id) >= 0 {
			delete(s.pending, id)
		}
	}
}

func (s *Saver) setLastErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err
}

func (s *Saver) warn(err error) {
	s.log.WithError(err).Warn("pending cell not yet durable")
	if s.onWarning != nil {
		s.onWarning(err)
	}
}
