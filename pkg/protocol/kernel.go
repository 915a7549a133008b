// Package protocol defines the two frame vocabularies the engine speaks: the
// kernel channel and the collaboration channel. All frames are JSON objects
// with a mandatory "type" discriminator. Decoding is forward-compatible: a
// frame whose type matches no declared variant decodes to an empty union,
// which receivers treat as a no-op.
package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/pkg/model"
	"github.com/inkwell-ai/inkwell/pkg/union"
)

// KernelState is the kernel's self-reported execution state.
type KernelState string

// The states a kernel reports through status frames.
const (
	KernelBusy KernelState = "busy"
	KernelIdle KernelState = "idle"
)

// ExecuteRequest asks the kernel to execute a cell's code.
type ExecuteRequest struct {
	CellID    model.CellID           `json:"cellId"`
	Code      string                 `json:"code"`
	Language  string                 `json:"language,omitempty"`
	TimeoutMs int64                  `json:"timeoutMs,omitempty"`
	Globals   map[string]interface{} `json:"globals,omitempty"`
}

// InterruptRequest asks the kernel to abort the in-flight execution. It is
// advisory; only a subsequent status or reply clears the client's running state.
type InterruptRequest struct {
	NotebookID model.NotebookID `json:"notebookId"`
}

// KernelRequest is the tagged union of client-to-kernel frames.
type KernelRequest struct {
	Execute   *ExecuteRequest   `union:"type,execute_request" json:"-"`
	Interrupt *InterruptRequest `union:"type,interrupt_request" json:"-"`
}

// MarshalJSON implements the json.Marshaler interface.
func (r KernelRequest) MarshalJSON() ([]byte, error) {
	return union.Marshal(r)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (r *KernelRequest) UnmarshalJSON(data []byte) error {
	if err := union.Unmarshal(data, r); err != nil {
		return err
	}

	type DefaultParser *KernelRequest
	return errors.Wrap(json.Unmarshal(data, DefaultParser(r)), "failed to parse kernel request")
}

// Hello announces (re)establishment of a kernel session. A fresh kernel cannot
// resume vintage state, so receivers reset display counters and run queues.
type Hello struct{}

// Status reports the kernel's execution state.
type Status struct {
	State KernelState `json:"state"`
}

// ExecuteReply finishes one cell execution.
type ExecuteReply struct {
	CellID     model.CellID `json:"cellId"`
	ExecTimeMs int64        `json:"execTimeMs"`
	Status     string       `json:"status"`
}

// Stream is an append-only chunk of execution output.
type Stream struct {
	CellID model.CellID `json:"cellId"`
	Name   string       `json:"name"`
	Text   string       `json:"text"`
}

// KernelError reports an execution failure. The cell id is empty when the
// failure is not attributable to a single cell.
type KernelError struct {
	CellID    model.CellID `json:"cellId,omitempty"`
	Ename     string       `json:"ename"`
	Evalue    string       `json:"evalue"`
	Traceback []string     `json:"traceback,omitempty"`
}

// DisplayData is rich display content for a cell. Its metadata may carry a
// display id marking an existing output to replace in place.
type DisplayData struct {
	CellID   model.CellID           `json:"cellId"`
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// KernelMessage is the tagged union of kernel-to-client frames.
type KernelMessage struct {
	Hello             *Hello        `union:"type,hello" json:"-"`
	Status            *Status       `union:"type,status" json:"-"`
	ExecuteReply      *ExecuteReply `union:"type,execute_reply" json:"-"`
	Stream            *Stream       `union:"type,stream" json:"-"`
	Error             *KernelError  `union:"type,error" json:"-"`
	DisplayData       *DisplayData  `union:"type,display_data" json:"-"`
	ExecuteResult     *DisplayData  `union:"type,execute_result" json:"-"`
	UpdateDisplayData *DisplayData  `union:"type,update_display_data" json:"-"`
}

// Known reports whether the frame matched a declared variant. Unknown frames
// are ignored, never fatal.
func (m KernelMessage) Known() bool {
	return m != KernelMessage{}
}

// MarshalJSON implements the json.Marshaler interface.
func (m KernelMessage) MarshalJSON() ([]byte, error) {
	return union.Marshal(m)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (m *KernelMessage) UnmarshalJSON(data []byte) error {
	if err := union.Unmarshal(data, m); err != nil {
		return err
	}

	type DefaultParser *KernelMessage
	return errors.Wrap(json.Unmarshal(data, DefaultParser(m)), "failed to parse kernel message")
}
