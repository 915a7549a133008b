// Package run schedules cell execution. Code cells go through the kernel
// channel under a single-flight state machine with a FIFO run queue; shell,
// http, and sql cells have bespoke handling that never touches the kernel
// channel.
package run

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/document"
	"github.com/inkwell-ai/inkwell/pkg/check"
	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
)

// Sender submits a frame to the kernel channel. It fails fast when the channel
// is not open; the coordinator never queues sends itself.
type Sender func(protocol.KernelRequest) error

// OneShotState tracks an http/sql cell's request outside the kernel run queue.
type OneShotState struct {
	Busy bool
	Err  string
}

// Coordinator drives execution for one session. At most one execute_request is
// in flight at a time; further run requests wait in submission order.
type Coordinator struct {
	mu  sync.Mutex
	log *logrus.Entry

	store      *document.Store
	cli        *api.Client
	notebookID model.NotebookID
	send       Sender

	running  model.CellID
	queue    []model.CellID
	counter  int
	pending  map[model.CellID]bool
	oneShots map[model.CellID]OneShotState

	execTimeoutMs int64
}

// NewCoordinator builds a coordinator over the given store. The sender is
// wired separately because the session manager that owns the channel is
// constructed around this coordinator's message handler.
func NewCoordinator(
	store *document.Store, cli *api.Client, notebookID model.NotebookID,
) *Coordinator {
	return &Coordinator{
		log: logrus.WithFields(logrus.Fields{
			"component": "run-coordinator",
			"notebook":  notebookID,
		}),
		store:      store,
		cli:        cli,
		notebookID: notebookID,
		pending:    map[model.CellID]bool{},
		oneShots:   map[model.CellID]OneShotState{},
	}
}

// SetSender wires the kernel channel's send function.
func (c *Coordinator) SetSender(send Sender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.send = send
}

// SetExecTimeout sets the per-request timeout carried on execute_request
// frames. The kernel enforces it; the client never does.
func (c *Coordinator) SetExecTimeout(ms int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.execTimeoutMs = ms
}

// RunCell submits a cell for execution, dispatching on its kind. Validation
// failures are rejected here, before any channel I/O.
func (c *Coordinator) RunCell(ctx context.Context, cellID model.CellID) error {
	var cell *model.Cell
	c.store.With(func(nb *model.Notebook) {
		if found := nb.CellByID(cellID); found != nil {
			copied := *found
			cell = &copied
		}
	})
	if cell == nil {
		return errors.Errorf("no cell with id %s", cellID)
	}

	switch {
	case cell.Code != nil:
		return c.runCode(cell.ID)
	case cell.Markdown != nil:
		return nil
	case cell.Shell != nil:
		c.markPendingCommand(cell.ID, cell.Shell.Command)
		return nil
	case cell.Command != nil:
		c.markPendingCommand(cell.ID, cell.Command.Command)
		return nil
	case cell.HTTP != nil:
		return c.runHTTP(ctx, cell.ID, cell.HTTP.Request)
	case cell.SQL != nil:
		return c.runSQL(ctx, cell.ID, *cell.SQL)
	default:
		return errors.Errorf("cell %s has no runnable type", cellID)
	}
}

// Interrupt asks the kernel to abort the in-flight execution. Advisory only:
// running state clears on the next reply, idle status, or disconnect.
func (c *Coordinator) Interrupt() error {
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return errors.New("kernel channel not wired")
	}
	return send(protocol.KernelRequest{
		Interrupt: &protocol.InterruptRequest{NotebookID: c.notebookID},
	})
}

// HandleMessage demultiplexes one inbound kernel frame. Unknown frames are
// ignored for forward compatibility.
func (c *Coordinator) HandleMessage(msg protocol.KernelMessage) {
	switch {
	case msg.Hello != nil:
		// A fresh kernel process cannot resume vintage state.
		c.log.Info("kernel session (re)established; resetting execution state")
		c.Reset()
	case msg.Status != nil:
		if msg.Status.State == protocol.KernelIdle {
			c.finish("")
		}
	case msg.ExecuteReply != nil:
		c.stampCount(msg.ExecuteReply.CellID)
		c.finish(msg.ExecuteReply.CellID)
	case msg.Stream != nil:
		c.appendOutput(msg.Stream.CellID, model.Output{
			Stream: &model.StreamOutput{Name: msg.Stream.Name, Text: msg.Stream.Text},
		})
	case msg.Error != nil:
		c.handleError(*msg.Error)
	case msg.DisplayData != nil:
		c.applyDisplay(*msg.DisplayData, false)
	case msg.ExecuteResult != nil:
		c.applyDisplay(*msg.ExecuteResult, true)
	case msg.UpdateDisplayData != nil:
		// Treated as display data for type purposes; it exists to replace.
		c.applyDisplay(*msg.UpdateDisplayData, false)
	default:
		c.log.Trace("ignoring unrecognized kernel frame")
	}
}

// Reset clears the display counter, run queue, and pending tickets. Called on
// hello frames and on explicit reconnects.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter = 0
	c.queue = nil
	c.running = ""
	c.pending = map[model.CellID]bool{}
}

// HandleDisconnect clears the running ticket so the UI cannot be stuck
// perpetually busy after a channel drop. The queue survives until an explicit
// reconnect resets it.
func (c *Coordinator) HandleDisconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = ""
}

// Running returns the in-flight cell id, or "".
func (c *Coordinator) Running() model.CellID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Queued returns the cell ids awaiting execution in submission order.
func (c *Coordinator) Queued() []model.CellID {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.CellID, len(c.queue))
	copy(out, c.queue)
	return out
}

// OneShot returns the tracked state for an http/sql cell.
func (c *Coordinator) OneShot(cellID model.CellID) OneShotState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.oneShots[cellID]
}

func (c *Coordinator) runCode(cellID model.CellID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.running == cellID:
		return nil
	case c.running != "":
		// Idempotent enqueue; duplicates are suppressed.
		for _, queued := range c.queue {
			if queued == cellID {
				return nil
			}
		}
		c.queue = append(c.queue, cellID)
		return nil
	default:
		return c.sendExecuteLocked(cellID)
	}
}

// sendExecuteLocked sends an execute_request and transitions to Running.
// Callers must hold c.mu.
func (c *Coordinator) sendExecuteLocked(cellID model.CellID) error {
	if c.send == nil {
		return errors.New("kernel channel not wired")
	}

	var req *protocol.ExecuteRequest
	c.store.With(func(nb *model.Notebook) {
		cell := nb.CellByID(cellID)
		if cell == nil || cell.Code == nil {
			return
		}
		language := cell.Code.Language
		if language == "" {
			language = nb.Environment.Runtime
		}
		globals := make(map[string]interface{}, len(nb.Environment.Variables))
		for k, v := range nb.Environment.Variables {
			globals[k] = v
		}
		req = &protocol.ExecuteRequest{
			CellID:    cellID,
			Code:      cell.Code.Source,
			Language:  language,
			TimeoutMs: c.execTimeoutMs,
			Globals:   globals,
		}
	})
	if req == nil {
		return errors.Errorf("cell %s is not a code cell", cellID)
	}

	if err := c.send(protocol.KernelRequest{Execute: req}); err != nil {
		return errors.Wrapf(err, "submitting cell %s", cellID)
	}
	c.running = cellID
	c.pending[cellID] = true
	return nil
}

// finish transitions Running -> Idle and immediately drains the queue head.
// cellID narrows the transition to one reply; "" (an idle status) always
// clears.
func (c *Coordinator) finish(cellID model.CellID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cellID != "" && c.running != "" && c.running != cellID {
		// A reply for a cell we are not running: replay from a reconnect race.
		return
	}
	c.running = ""

	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if err := c.sendExecuteLocked(next); err != nil {
			c.log.WithError(err).Errorf("failed to submit queued cell %s", next)
			continue
		}
		return
	}
}

// stampCount assigns the display count on the first reply for an in-flight
// request. The pending ticket scopes stamping to requests made since the last
// reset: counting restarts at zero after a hello and overwrites whatever count
// a cell carried before it, while a reply replayed after its stamp keeps the
// assigned count, making the handler idempotent under at-least-once delivery.
func (c *Coordinator) stampCount(cellID model.CellID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.pending[cellID] {
		return
	}
	delete(c.pending, cellID)

	stamped := false
	c.store.Update(func(nb *model.Notebook) {
		if cell := nb.CellByID(cellID); cell != nil {
			cell.SetMetadata(model.ExecutionCountKey, c.counter)
			stamped = true
		}
	}, document.UpdateOptions{})
	if stamped {
		c.counter++
	}
}

func (c *Coordinator) handleError(frame protocol.KernelError) {
	// Errors always clear running state; queued cells proceed on the next idle
	// transition rather than being cancelled.
	c.mu.Lock()
	c.running = ""
	c.mu.Unlock()

	if frame.CellID == "" {
		c.log.Warnf("kernel error: %s: %s", frame.Ename, frame.Evalue)
		return
	}
	c.appendOutput(frame.CellID, model.Output{
		Error: &model.ErrorOutput{
			Ename:     frame.Ename,
			Evalue:    frame.Evalue,
			Traceback: frame.Traceback,
		},
	})
}

func (c *Coordinator) appendOutput(cellID model.CellID, out model.Output) {
	c.store.Update(func(nb *model.Notebook) {
		cell := nb.CellByID(cellID)
		if cell == nil || cell.Code == nil {
			return
		}
		cell.Code.AddOutput(out)
	}, document.UpdateOptions{})
}

func (c *Coordinator) applyDisplay(frame protocol.DisplayData, asResult bool) {
	out := model.Output{}
	if asResult {
		out.ExecuteResult = &model.ExecuteResultOutput{Data: frame.Data, Metadata: frame.Metadata}
	} else {
		out.DisplayData = &model.DisplayDataOutput{Data: frame.Data, Metadata: frame.Metadata}
	}
	c.appendOutput(frame.CellID, out)
}

// markPendingCommand writes the pending-command marker the terminal backend
// consumes; shell cells never touch the kernel channel.
func (c *Coordinator) markPendingCommand(cellID model.CellID, command string) {
	c.store.Update(func(nb *model.Notebook) {
		if cell := nb.CellByID(cellID); cell != nil {
			cell.SetMetadata(model.PendingCommandKey, command)
		}
	}, document.UpdateOptions{})
}

func (c *Coordinator) setOneShot(cellID model.CellID, state OneShotState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.oneShots[cellID] = state
}

func (c *Coordinator) runHTTP(
	ctx context.Context, cellID model.CellID, req model.HTTPRequest,
) error {
	if err := check.NotEmpty(req.URL, "http cell %s has no url", cellID); err != nil {
		return err
	}

	c.setOneShot(cellID, OneShotState{Busy: true})
	go func() {
		resp, err := c.cli.RunHTTP(ctx, c.notebookID, cellID, req)
		if err != nil {
			c.log.WithError(err).Errorf("http cell %s failed", cellID)
			c.setOneShot(cellID, OneShotState{Err: err.Error()})
			return
		}
		c.store.Update(func(nb *model.Notebook) {
			if cell := nb.CellByID(cellID); cell != nil && cell.HTTP != nil {
				cell.HTTP.Response = resp
			}
		}, document.UpdateOptions{})
		c.setOneShot(cellID, OneShotState{})
	}()
	return nil
}

func (c *Coordinator) runSQL(
	ctx context.Context, cellID model.CellID, cell model.SQLCell,
) error {
	var connected bool
	c.store.With(func(nb *model.Notebook) {
		connected = nb.Connection(cell.ConnectionID) != nil
	})
	if cell.ConnectionID == "" || !connected {
		return errors.Errorf("sql cell %s has no valid connection", cellID)
	}
	if cell.AssignVariable != "" {
		if err := check.Identifier(cell.AssignVariable,
			"sql cell %s assign variable is not a valid identifier", cellID); err != nil {
			return err
		}
	}

	c.setOneShot(cellID, OneShotState{Busy: true})
	go func() {
		result, err := c.cli.RunSQL(ctx, c.notebookID, cellID, api.SQLRunRequest{
			ConnectionID:   cell.ConnectionID,
			Query:          cell.Query,
			AssignVariable: cell.AssignVariable,
		})
		if err != nil {
			c.log.WithError(err).Errorf("sql cell %s failed", cellID)
			c.setOneShot(cellID, OneShotState{Err: err.Error()})
			return
		}
		c.store.Update(func(nb *model.Notebook) {
			if cell := nb.CellByID(cellID); cell != nil && cell.SQL != nil {
				cell.SQL.Result = result
			}
		}, document.UpdateOptions{})
		c.setOneShot(cellID, OneShotState{})
	}()
	return nil
}
