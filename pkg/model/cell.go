package model

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/pkg/union"
)

// Metadata keys the engine writes into cell metadata.
const (
	// ExecutionCountKey holds the display counter stamped on a code cell's
	// first reply since the last reset.
	ExecutionCountKey = "count"
	// PendingCommandKey holds a command written for the terminal backend to
	// pick up; the backend clears it once the command is running.
	PendingCommandKey = "pendingCommand"
)

// Metadata is the open-ended key/value bag carried by every cell. It holds UI
// state and execution bookkeeping; the engine only interprets the keys above.
type Metadata map[string]interface{}

// ExecutionCount returns the stamped display count, if one is present. JSON
// round trips turn numbers into float64, so both are accepted.
func (m Metadata) ExecutionCount() (int, bool) {
	switch v := m[ExecutionCountKey].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

// PendingCommand returns the pending terminal command, if one is present.
func (m Metadata) PendingCommand() (string, bool) {
	s, ok := m[PendingCommandKey].(string)
	return s, ok
}

// Cell is a tagged union over every cell kind a notebook may contain. Exactly
// one variant pointer is non-nil for a well-formed cell.
type Cell struct {
	ID       CellID   `json:"id"`
	Metadata Metadata `json:"metadata,omitempty"`

	Code     *CodeCell     `union:"type,code" json:"-"`
	Markdown *MarkdownCell `union:"type,markdown" json:"-"`
	Shell    *ShellCell    `union:"type,shell" json:"-"`
	Command  *CommandCell  `union:"type,command" json:"-"`
	HTTP     *HTTPCell     `union:"type,http" json:"-"`
	SQL      *SQLCell      `union:"type,sql" json:"-"`
}

// Type returns the union tag of the active variant.
func (c Cell) Type() string {
	switch {
	case c.Code != nil:
		return "code"
	case c.Markdown != nil:
		return "markdown"
	case c.Shell != nil:
		return "shell"
	case c.Command != nil:
		return "command"
	case c.HTTP != nil:
		return "http"
	case c.SQL != nil:
		return "sql"
	default:
		return ""
	}
}

// Validate implements the check.Validatable interface.
func (c Cell) Validate() []error {
	var errs []error
	if c.ID == "" {
		errs = append(errs, errors.New("cell id must be set"))
	}
	if c.Type() == "" {
		errs = append(errs, errors.Errorf("cell %s has no recognized type", c.ID))
	}
	return errs
}

// SetMetadata writes a metadata key, allocating the bag if needed.
func (c *Cell) SetMetadata(key string, value interface{}) {
	if c.Metadata == nil {
		c.Metadata = Metadata{}
	}
	c.Metadata[key] = value
}

// ClearMetadata removes a metadata key.
func (c *Cell) ClearMetadata(key string) {
	delete(c.Metadata, key)
}

// MarshalJSON implements the json.Marshaler interface.
func (c Cell) MarshalJSON() ([]byte, error) {
	return union.Marshal(c)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (c *Cell) UnmarshalJSON(data []byte) error {
	if err := union.Unmarshal(data, c); err != nil {
		return err
	}

	type DefaultParser *Cell
	return errors.Wrap(json.Unmarshal(data, DefaultParser(c)), "failed to parse cell")
}

// CodeCell executes through the kernel channel and accumulates outputs.
type CodeCell struct {
	Source   string   `json:"source"`
	Language string   `json:"language,omitempty"`
	Outputs  []Output `json:"outputs"`
}

// AddOutput appends the output, unless it carries a display id already present
// in the output list, in which case it replaces that output in place. This is
// what lets the kernel mutate "live" displays over an append-only stream.
func (c *CodeCell) AddOutput(o Output) {
	if id := o.DisplayID(); id != "" {
		for i := range c.Outputs {
			if c.Outputs[i].DisplayID() == id {
				c.Outputs[i] = o
				return
			}
		}
	}
	c.Outputs = append(c.Outputs, o)
}

// MarkdownCell is rendered locally and never executed.
type MarkdownCell struct {
	Source string `json:"source"`
}

// ShellCell is an interactive terminal whose backend attaches out of band.
type ShellCell struct {
	Command string `json:"command,omitempty"`
}

// CommandCell is a one-shot shell command.
type CommandCell struct {
	Command string `json:"command"`
}

// HTTPCell issues a one-shot HTTP request through the notebook API.
type HTTPCell struct {
	Request  HTTPRequest   `json:"request"`
	Response *HTTPResponse `json:"response,omitempty"`
}

// SQLCell issues a one-shot query against one of the notebook's connections.
type SQLCell struct {
	Query          string     `json:"query"`
	ConnectionID   string     `json:"connectionId"`
	AssignVariable string     `json:"assignVariable,omitempty"`
	Result         *SQLResult `json:"result,omitempty"`
}

// HTTPRequest describes the request an http cell issues.
type HTTPRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// HTTPResponse is the structured result written back into an http cell.
type HTTPResponse struct {
	Status     int               `json:"status"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
	DurationMs int64             `json:"durationMs"`
}

// SQLResult is the structured result written back into a sql cell.
type SQLResult struct {
	Columns    []string        `json:"columns"`
	Rows       [][]interface{} `json:"rows"`
	RowCount   int             `json:"rowCount"`
	DurationMs int64           `json:"durationMs"`
}
