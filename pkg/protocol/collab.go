package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/union"
)

// RequestState asks the peer for the current document snapshot; sent by a
// client when its collaboration channel connects.
type RequestState struct{}

// Presence announces which cell, if any, the sender is focused on. It is
// best-effort and fire-and-forget.
type Presence struct {
	CellID  *model.CellID `json:"cellId"`
	ActorID model.ActorID `json:"actorId,omitempty"`
}

// State carries a full document snapshot to a newly connected client.
type State struct {
	Notebook *model.Notebook `json:"notebook"`
}

// Update broadcasts a committed mutation as a full document snapshot tagged
// with the originating actor, so receivers can suppress their own echo.
type Update struct {
	Notebook *model.Notebook `json:"notebook"`
	ActorID  model.ActorID   `json:"actorId"`
}

// CollabFrame is the tagged union of collaboration channel frames. The channel
// is symmetric; both sides send and receive the same vocabulary.
type CollabFrame struct {
	RequestState *RequestState `union:"type,request-state" json:"-"`
	Presence     *Presence     `union:"type,presence" json:"-"`
	State        *State        `union:"type,state" json:"-"`
	Update       *Update       `union:"type,update" json:"-"`
}

// Known reports whether the frame matched a declared variant.
func (f CollabFrame) Known() bool {
	return f != CollabFrame{}
}

// MarshalJSON implements the json.Marshaler interface.
func (f CollabFrame) MarshalJSON() ([]byte, error) {
	return union.Marshal(f)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (f *CollabFrame) UnmarshalJSON(data []byte) error {
	if err := union.Unmarshal(data, f); err != nil {
		return err
	}

	type DefaultParser *CollabFrame
	return errors.Wrap(json.Unmarshal(data, DefaultParser(f)), "failed to parse collab frame")
}
