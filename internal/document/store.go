// Package document holds the authoritative in-memory copy of an open
// notebook. Every mutation in the engine flows through Store.Update; that is
// the single choke point where dirty tracking, autosave scheduling, and
// collaboration broadcast hook in, so none of them can be bypassed by a direct
// write.
package document

import (
	"sync"
	"time"

	"github.com/inkwell-ai/inkwell/pkg/model"
)

// UpdateOptions controls the side effects of one mutation. The zero value
// stamps the modification time and schedules persistence, which is what almost
// every user-visible edit wants.
type UpdateOptions struct {
	// NoPersist leaves the dirty flag untouched; the mutation is bookkeeping
	// (e.g. execution state) rather than durable content.
	NoPersist bool
	// NoTouch leaves UpdatedAt untouched.
	NoTouch bool
}

// UpdateHook observes a committed mutation. It receives a deep copy of the new
// document, so hooks can hand it to channels without racing later mutations.
// Suppressed is true while a remote snapshot is being applied; broadcast hooks
// must not re-broadcast those.
type UpdateHook func(snapshot *model.Notebook, opts UpdateOptions, suppressed bool)

// Store is the authoritative document holder for one open notebook.
type Store struct {
	mu         sync.Mutex
	doc        *model.Notebook
	dirty      bool
	suppressed bool
	hooks      []UpdateHook

	// now is swappable for tests.
	now func() time.Time
}

// NewStore takes ownership of the given document.
func NewStore(doc *model.Notebook) *Store {
	return &Store{doc: doc, now: time.Now}
}

// AddHook registers a hook fired after every committed mutation. Hooks run
// outside the store's lock, in registration order.
func (s *Store) AddHook(h UpdateHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

// Update applies the transform to the current document under the store's lock,
// stamps UpdatedAt unless opts.NoTouch, marks the document dirty unless
// opts.NoPersist, and fires the registered hooks with a snapshot of the
// result.
func (s *Store) Update(transform func(*model.Notebook), opts UpdateOptions) {
	s.mu.Lock()
	transform(s.doc)
	if !opts.NoTouch {
		s.doc.UpdatedAt = s.now().UTC()
	}
	if !opts.NoPersist {
		s.dirty = true
	}
	snapshot := s.doc.Clone()
	suppressed := s.suppressed
	hooks := s.hooks
	s.mu.Unlock()

	for _, h := range hooks {
		h(snapshot, opts, suppressed)
	}
}

// With runs the function with the latest document under the store's lock.
// Asynchronous callbacks (kernel messages, timers) read through here so they
// always observe current state, never a value captured at subscription time.
func (s *Store) With(fn func(*model.Notebook)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.doc)
}

// Snapshot returns a deep copy of the current document.
func (s *Store) Snapshot() *model.Notebook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Suppress runs fn with the suppression flag set. Mutations committed inside
// the bracket are visible to hooks with suppressed=true, which is how an
// inbound collaboration frame is applied without re-triggering an outbound
// broadcast.
func (s *Store) Suppress(fn func()) {
	s.mu.Lock()
	s.suppressed = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.suppressed = false
		s.mu.Unlock()
	}()
	fn()
}

// Replace swaps in a whole new document (a remote snapshot) and clears the
// dirty flag, suppressed so the replacement is not re-broadcast.
func (s *Store) Replace(doc *model.Notebook) {
	s.Suppress(func() {
		s.Update(func(cur *model.Notebook) {
			*cur = *doc.Clone()
		}, UpdateOptions{NoPersist: true, NoTouch: true})
	})
	s.ClearDirty()
}

// Dirty reports whether the document has unpersisted changes.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// ClearDirty marks the document as persisted.
func (s *Store) ClearDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
}
