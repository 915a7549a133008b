// Package session owns the lifecycle of one kernel session per notebook: the
// session record on the service, and the single duplex channel bound to it.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
	"github.com/inkwell-ai/inkwell/pkg/ws"
)

// ErrNotConnected is returned by Send when the kernel channel is not open. A
// send never queues silently; the caller retries after an explicit reconnect.
var ErrNotConnected = errors.New("kernel not connected")

// Status is a recoverable, user-visible condition of the kernel connection.
type Status string

// The statuses the manager surfaces. They are dismissible conditions, never
// errors thrown into application logic.
const (
	StatusConnected    Status = "kernel connected"
	StatusNotConnected Status = "kernel not connected"
	StatusError        Status = "kernel connection error"
)

// Hooks are the manager's outbound wiring. All callbacks are optional.
type Hooks struct {
	// OnMessage receives every inbound kernel frame.
	OnMessage func(protocol.KernelMessage)
	// OnDisconnect fires when the channel closes for any reason, so running
	// state can be cleared and the UI is never stuck busy.
	OnDisconnect func()
	// OnReset fires when execution bookkeeping must be discarded (reconnect,
	// restart).
	OnReset func()
	// OnStatus surfaces recoverable connection conditions.
	OnStatus func(Status)
	// OnRestart fires after a restart discarded the old session, so the
	// document's transient execution state can be cleared.
	OnRestart func()
}

type kernelSocket = ws.Websocket[protocol.KernelMessage, protocol.KernelRequest]

// Manager binds one notebook to at most one live kernel session and channel.
type Manager struct {
	// mu serializes lifecycle operations and guards sessionID.
	mu  sync.Mutex
	log *logrus.Entry

	cli        *api.Client
	notebookID model.NotebookID
	hooks      Hooks

	sessionID model.SessionID
	// sock is atomic so the read pump can retire a crashed socket without
	// contending with a lifecycle operation that is waiting on the pump.
	sock     atomic.Pointer[kernelSocket]
	pumpDone chan struct{}

	maxElapsed       time.Duration
	greetingDeadline time.Duration
}

// NewManager builds a manager; no session exists until Open.
func NewManager(cli *api.Client, notebookID model.NotebookID, hooks Hooks) *Manager {
	return &Manager{
		log: logrus.WithFields(logrus.Fields{
			"component": "kernel-session",
			"notebook":  notebookID,
		}),
		cli:              cli,
		notebookID:       notebookID,
		hooks:            hooks,
		maxElapsed:       time.Minute,
		greetingDeadline: 10 * time.Second,
	}
}

// SessionID returns the current session id, or "".
func (m *Manager) SessionID() model.SessionID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Connected reports whether the kernel channel is open.
func (m *Manager) Connected() bool {
	return m.sock.Load() != nil
}

// Open creates a session for the notebook and connects its channel. Called
// when the document becomes editable; a second Open is a no-op.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID != "" {
		return nil
	}

	sessionID, err := m.cli.CreateSession(ctx, m.notebookID)
	if err != nil {
		m.status(StatusError)
		return errors.Wrap(err, "opening kernel session")
	}
	m.sessionID = sessionID
	return m.connect()
}

// Reconnect closes and reopens the channel against the same session id and
// resets execution bookkeeping. This recovers a stale channel without
// discarding kernel-side state.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessionID == "" {
		return ErrNotConnected
	}

	m.closeChannel()
	if m.hooks.OnReset != nil {
		m.hooks.OnReset()
	}

	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(m.maxElapsed),
	), ctx)
	if err := backoff.Retry(m.connect, policy); err != nil {
		m.status(StatusError)
		return errors.Wrap(err, "reconnecting kernel channel")
	}
	return nil
}

// Restart discards the session entirely and opens a brand-new one. The
// OnRestart hook clears transient execution state from the document.
func (m *Manager) Restart(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeChannel()
	if m.sessionID != "" {
		if err := m.cli.DeleteSession(ctx, m.sessionID); err != nil {
			// The old session leaks kernel-side at worst; keep going.
			m.log.WithError(err).Warn("failed to delete old session")
		}
		m.sessionID = ""
	}
	if m.hooks.OnReset != nil {
		m.hooks.OnReset()
	}
	if m.hooks.OnRestart != nil {
		m.hooks.OnRestart()
	}

	sessionID, err := m.cli.CreateSession(ctx, m.notebookID)
	if err != nil {
		m.status(StatusError)
		return errors.Wrap(err, "restarting kernel session")
	}
	m.sessionID = sessionID
	return m.connect()
}

// Close tears down the channel and the session. Called on unmount, on a
// read-only transition, or when the notebook changes.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeChannel()
	if m.sessionID == "" {
		return nil
	}
	err := m.cli.DeleteSession(ctx, m.sessionID)
	m.sessionID = ""
	return errors.Wrap(err, "closing kernel session")
}

// Send submits one frame to the kernel channel, failing fast when it is not
// open.
func (m *Manager) Send(req protocol.KernelRequest) error {
	sock := m.sock.Load()
	if sock == nil {
		return ErrNotConnected
	}

	select {
	case sock.Outbox <- req:
		return nil
	case <-sock.Done:
		return ErrNotConnected
	}
}

// connect dials the channel for the current session and starts its read pump.
// Callers must hold m.mu.
func (m *Manager) connect() error {
	sock, err := m.cli.OpenKernelChannel(m.sessionID)
	if err != nil {
		m.status(StatusNotConnected)
		return err
	}

	// Consume the kernel's greeting before publishing the socket. The greeting
	// resets execution bookkeeping, so it must be handled before Open or
	// Reconnect return; otherwise a submission made right after could be wiped
	// by the establishment reset and silently never run.
	select {
	case msg, ok := <-sock.Inbox:
		if !ok {
			m.closeSock(sock)
			m.status(StatusNotConnected)
			return errors.New("kernel channel closed before greeting")
		}
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(msg)
		}
	case <-time.After(m.greetingDeadline):
		m.closeSock(sock)
		m.status(StatusNotConnected)
		return errors.New("timed out waiting for kernel greeting")
	}

	m.sock.Store(sock)
	m.pumpDone = make(chan struct{})
	go m.runReadPump(sock, m.pumpDone)
	m.status(StatusConnected)
	return nil
}

// closeChannel closes the channel, if open, and waits for its pump to drain so
// no stale frames land after a reconnect. Callers must hold m.mu.
func (m *Manager) closeChannel() {
	sock := m.sock.Swap(nil)
	if sock == nil {
		return
	}
	m.closeSock(sock)
	<-m.pumpDone
}

func (m *Manager) closeSock(sock *kernelSocket) {
	if err := sock.Close(); err != nil {
		m.log.WithError(err).Warn("closing kernel channel")
	}
}

func (m *Manager) runReadPump(sock *kernelSocket, done chan struct{}) {
	defer close(done)
	for msg := range sock.Inbox {
		if m.hooks.OnMessage != nil {
			m.hooks.OnMessage(msg)
		}
	}

	if err := sock.Error(); err != nil {
		m.log.WithError(err).Warn("kernel channel closed with error")
		m.status(StatusError)
	} else {
		m.status(StatusNotConnected)
	}

	// Retire the socket if it is still current (a crash rather than a
	// deliberate close or reconnect swap).
	m.sock.CompareAndSwap(sock, nil)
	if m.hooks.OnDisconnect != nil {
		m.hooks.OnDisconnect()
	}
}

func (m *Manager) status(s Status) {
	if m.hooks.OnStatus != nil {
		m.hooks.OnStatus(s)
	}
}
