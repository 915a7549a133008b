package nbserver

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/protocol"
)

// hub fans collaboration frames out to every subscriber of a notebook. Updates
// are echoed back to their sender on purpose: the sender recognizes its own
// actor id and merges rather than replaces.
type hub struct {
	mu    sync.Mutex
	log   *logrus.Entry
	rooms map[model.NotebookID]*room
}

type room struct {
	subs map[*subscriber]bool
	// last caches the most recent broadcast document so request-state answers
	// reflect live edits, not just the last durable save.
	last *model.Notebook
}

type subscriber struct {
	conn *websocket.Conn
	send chan protocol.CollabFrame
}

func newHub() *hub {
	return &hub{
		log:   logrus.WithField("component", "collab-hub"),
		rooms: map[model.NotebookID]*room{},
	}
}

// serve runs one subscriber's read loop until the connection drops. The
// snapshot function supplies the durable document when no live broadcast has
// been cached yet.
func (h *hub) serve(
	id model.NotebookID, conn *websocket.Conn,
	snapshot func() (*model.Notebook, error),
) {
	sub := &subscriber{conn: conn, send: make(chan protocol.CollabFrame, 16)}
	h.register(id, sub)
	defer h.unregister(id, sub)

	go func() {
		for frame := range sub.send {
			if err := conn.WriteJSON(frame); err != nil {
				h.log.WithError(err).Debug("dropping collaboration subscriber")
				return
			}
		}
	}()

	for {
		var frame protocol.CollabFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		h.handle(id, sub, frame, snapshot)
	}
}

func (h *hub) handle(
	id model.NotebookID, sub *subscriber, frame protocol.CollabFrame,
	snapshot func() (*model.Notebook, error),
) {
	switch {
	case frame.RequestState != nil:
		nb := h.cached(id)
		if nb == nil {
			durable, err := snapshot()
			if err != nil {
				h.log.WithError(err).Warnf("no snapshot for notebook %s", id)
				return
			}
			nb = durable
		}
		sub.trySend(protocol.CollabFrame{State: &protocol.State{Notebook: nb}})
	case frame.Update != nil:
		if frame.Update.Notebook != nil {
			h.cache(id, frame.Update.Notebook)
		}
		h.broadcast(id, nil, frame)
	case frame.Presence != nil:
		h.broadcast(id, sub, frame)
	default:
		// State frames are server-to-client; anything else is a newer client.
	}
}

// broadcast sends the frame to every subscriber of the room except skip. The
// sends happen under the hub lock so no frame races a subscriber's unregister;
// trySend never blocks, so holding the lock is cheap.
func (h *hub) broadcast(id model.NotebookID, skip *subscriber, frame protocol.CollabFrame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[id]
	if r == nil {
		return
	}
	for sub := range r.subs {
		if sub != skip {
			sub.trySend(frame)
		}
	}
}

func (h *hub) register(id model.NotebookID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[id]
	if r == nil {
		r = &room{subs: map[*subscriber]bool{}}
		h.rooms[id] = r
	}
	r.subs[sub] = true
}

func (h *hub) unregister(id model.NotebookID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r := h.rooms[id]
	if r == nil {
		return
	}
	delete(r.subs, sub)
	close(sub.send)
	if len(r.subs) == 0 {
		delete(h.rooms, id)
	}
}

func (h *hub) cache(id model.NotebookID, nb *model.Notebook) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[id]; r != nil {
		r.last = nb
	}
}

func (h *hub) cached(id model.NotebookID) *model.Notebook {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r := h.rooms[id]; r != nil {
		return r.last
	}
	return nil
}

// trySend drops the frame if the subscriber's buffer is full; a stalled client
// must not block the room.
func (s *subscriber) trySend(frame protocol.CollabFrame) {
	select {
	case s.send <- frame:
	default:
	}
}
