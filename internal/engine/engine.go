// Package engine composes the document store, kernel session, run coordinator,
// autosaver, and collaboration synchronizer into the single facade an embedding
// frontend drives. All cross-component wiring lives here; the components
// themselves never import each other's packages laterally.
package engine

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/autosave"
	"github.com/inkwell-ai/inkwell/internal/collab"
	"github.com/inkwell-ai/inkwell/internal/document"
	"github.com/inkwell-ai/inkwell/internal/run"
	"github.com/inkwell-ai/inkwell/internal/session"
	"github.com/inkwell-ai/inkwell/pkg/check"
	"github.com/inkwell-ai/inkwell/pkg/model"
)

// ErrReadOnly rejects edits and execution while the notebook is not editable.
var ErrReadOnly = errors.New("notebook is read-only")

// Callbacks surface engine-level conditions to the embedding frontend. All are
// optional and must not block.
type Callbacks struct {
	// OnKernelStatus surfaces kernel connection transitions.
	OnKernelStatus func(session.Status)
	// OnSaveError surfaces a persistence failure; the document stays dirty.
	OnSaveError func(error)
	// OnSaveWarning surfaces the non-fatal "still syncing" condition.
	OnSaveWarning func(error)
	// OnPresence surfaces peers' active-cell announcements.
	OnPresence func(actor model.ActorID, cellID *model.CellID)
}

// Engine owns one open notebook.
type Engine struct {
	mu  sync.Mutex
	log *logrus.Entry

	cli        *api.Client
	notebookID model.NotebookID

	store *document.Store
	coord *run.Coordinator
	sess  *session.Manager
	saver *autosave.Saver
	sync  *collab.Synchronizer

	editable   bool
	activeCell *model.CellID
}

// New builds an engine over an already-fetched notebook. The engine takes
// ownership of the document; Open establishes the channels.
func New(cli *api.Client, notebook *model.Notebook, actorID model.ActorID, cbs Callbacks) *Engine {
	if actorID == "" {
		actorID = model.ActorID(uuid.NewString())
	}

	e := &Engine{
		log: logrus.WithFields(logrus.Fields{
			"component": "engine",
			"notebook":  notebook.ID,
		}),
		cli:        cli,
		notebookID: notebook.ID,
	}

	e.store = document.NewStore(notebook)
	e.coord = run.NewCoordinator(e.store, cli, notebook.ID)
	e.saver = autosave.NewSaver(e.store, cli, notebook.ID, cbs.OnSaveError, cbs.OnSaveWarning)
	e.sync = collab.NewSynchronizer(e.store, cli, notebook.ID, actorID, collab.Hooks{
		ActiveCell: e.ActiveCell,
		OnPresence: cbs.OnPresence,
	})
	e.sess = session.NewManager(cli, notebook.ID, session.Hooks{
		OnMessage:    e.coord.HandleMessage,
		OnDisconnect: e.coord.HandleDisconnect,
		OnReset:      e.coord.Reset,
		OnStatus:     cbs.OnKernelStatus,
		OnRestart:    e.clearExecutionState,
	})
	e.coord.SetSender(e.sess.Send)

	e.store.AddHook(e.saver.Hook())
	e.store.AddHook(e.sync.Hook())
	return e
}

// Store exposes the document store for read access and tests.
func (e *Engine) Store() *document.Store { return e.store }

// Coordinator exposes execution state accessors (running cell, queue).
func (e *Engine) Coordinator() *run.Coordinator { return e.coord }

// Session exposes kernel session state accessors.
func (e *Engine) Session() *session.Manager { return e.sess }

// Saver exposes persistence state accessors (pending cells, last error).
func (e *Engine) Saver() *autosave.Saver { return e.saver }

// Open connects the collaboration channel and, when editable, the kernel
// session. Collaboration works in read-only mode too; the kernel does not.
func (e *Engine) Open(ctx context.Context, editable bool) error {
	e.mu.Lock()
	e.editable = editable
	e.mu.Unlock()

	if err := e.sync.Open(); err != nil {
		return err
	}
	if !editable {
		return nil
	}
	return e.sess.Open(ctx)
}

// Close flushes unsaved changes best-effort and tears down both channels.
func (e *Engine) Close(ctx context.Context) error {
	e.saver.Stop()
	if e.store.Dirty() {
		if err := e.saver.SaveNow(ctx); err != nil {
			e.log.WithError(err).Warn("final save failed; recent edits may be lost")
		}
	}
	e.sync.Close()
	return e.sess.Close(ctx)
}

// Editable reports whether edits and execution are accepted.
func (e *Engine) Editable() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.editable
}

// SetEditable transitions the edit mode. Becoming editable opens a kernel
// session; becoming read-only flushes and closes it. The collaboration channel
// is unaffected either way.
func (e *Engine) SetEditable(ctx context.Context, editable bool) error {
	e.mu.Lock()
	if e.editable == editable {
		e.mu.Unlock()
		return nil
	}
	e.editable = editable
	e.mu.Unlock()

	if editable {
		return e.sess.Open(ctx)
	}
	if e.store.Dirty() {
		if err := e.saver.SaveNow(ctx); err != nil {
			e.log.WithError(err).Warn("save on read-only transition failed")
		}
	}
	return e.sess.Close(ctx)
}

// RunCell submits a cell for execution.
func (e *Engine) RunCell(ctx context.Context, cellID model.CellID) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	return e.coord.RunCell(ctx, cellID)
}

// InterruptKernel asks the kernel to abort the in-flight execution.
func (e *Engine) InterruptKernel() error {
	return e.coord.Interrupt()
}

// ReconnectKernel reopens the channel against the existing session.
func (e *Engine) ReconnectKernel(ctx context.Context) error {
	return e.sess.Reconnect(ctx)
}

// RestartKernel discards the session and its kernel-side state; outputs and
// execution counts are cleared from the document as part of the restart.
func (e *Engine) RestartKernel(ctx context.Context) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	return e.sess.Restart(ctx)
}

// EditCell applies a transform to one cell.
func (e *Engine) EditCell(cellID model.CellID, transform func(*model.Cell)) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	found := false
	e.store.Update(func(nb *model.Notebook) {
		if cell := nb.CellByID(cellID); cell != nil {
			transform(cell)
			found = true
		}
	}, document.UpdateOptions{})
	if !found {
		return errors.Errorf("no cell with id %s", cellID)
	}
	return nil
}

// AddCell inserts a cell at the given index (clamped). An empty id is
// assigned. Cells backed by an out-of-document resource are saved immediately
// and tracked until the storage layer confirms them.
func (e *Engine) AddCell(ctx context.Context, cell model.Cell, index int) (model.CellID, error) {
	if !e.Editable() {
		return "", ErrReadOnly
	}
	if cell.ID == "" {
		cell.ID = model.CellID(uuid.NewString())
	}
	if err := check.Validate(cell); err != nil {
		return "", err
	}

	var dup bool
	e.store.With(func(nb *model.Notebook) { dup = nb.CellByID(cell.ID) != nil })
	if dup {
		return "", errors.Errorf("cell id %s already exists", cell.ID)
	}

	e.store.Update(func(nb *model.Notebook) {
		nb.InsertCell(cell, index)
	}, document.UpdateOptions{})

	if cell.Shell != nil || cell.Command != nil {
		e.saver.TrackPending(ctx, cell.ID)
	}
	return cell.ID, nil
}

// DeleteCell removes a cell.
func (e *Engine) DeleteCell(cellID model.CellID) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	removed := false
	e.store.Update(func(nb *model.Notebook) {
		removed = nb.RemoveCell(cellID)
	}, document.UpdateOptions{})
	if !removed {
		return errors.Errorf("no cell with id %s", cellID)
	}
	return nil
}

// MoveCell reorders a cell to the given index (clamped).
func (e *Engine) MoveCell(cellID model.CellID, index int) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	moved := false
	e.store.Update(func(nb *model.Notebook) {
		moved = nb.MoveCell(cellID, index)
	}, document.UpdateOptions{})
	if !moved {
		return errors.Errorf("no cell with id %s", cellID)
	}
	return nil
}

// Rename sets the notebook's name.
func (e *Engine) Rename(name string) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	e.store.Update(func(nb *model.Notebook) {
		nb.Name = name
	}, document.UpdateOptions{})
	return nil
}

// SetEnvironment replaces the notebook's environment.
func (e *Engine) SetEnvironment(env model.Environment) error {
	if !e.Editable() {
		return ErrReadOnly
	}
	e.store.Update(func(nb *model.Notebook) {
		nb.Environment = env
	}, document.UpdateOptions{})
	return nil
}

// SaveNow persists immediately, bypassing the debounce.
func (e *Engine) SaveNow(ctx context.Context) error {
	return e.saver.SaveNow(ctx)
}

// SetActiveCell records the locally focused cell and announces it to peers.
func (e *Engine) SetActiveCell(cellID *model.CellID) {
	e.mu.Lock()
	e.activeCell = cellID
	e.mu.Unlock()
	e.sync.Presence(cellID)
}

// ActiveCell returns the locally focused cell, or nil.
func (e *Engine) ActiveCell() *model.CellID {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeCell
}

// clearExecutionState wipes outputs, execution counts, and pending-command
// markers after a kernel restart. The wipe is durable content, so it persists.
func (e *Engine) clearExecutionState() {
	e.store.Update(func(nb *model.Notebook) {
		for i := range nb.Cells {
			cell := &nb.Cells[i]
			if cell.Code != nil {
				cell.Code.Outputs = nil
			}
			cell.ClearMetadata(model.ExecutionCountKey)
			cell.ClearMetadata(model.PendingCommandKey)
		}
	}, document.UpdateOptions{})
}
