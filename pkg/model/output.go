package model

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/pkg/union"
)

// DisplayIDKey is the metadata key display outputs use to mark a position
// whose content is meant to be replaced rather than appended.
const DisplayIDKey = "display_id"

// Output is a tagged union over the output kinds a code cell accumulates.
type Output struct {
	Stream        *StreamOutput        `union:"type,stream" json:"-"`
	Error         *ErrorOutput         `union:"type,error" json:"-"`
	DisplayData   *DisplayDataOutput   `union:"type,display_data" json:"-"`
	ExecuteResult *ExecuteResultOutput `union:"type,execute_result" json:"-"`
}

// DisplayID returns the display id carried in the output's metadata, or "".
// Stream and error outputs never carry one.
func (o Output) DisplayID() string {
	var md map[string]interface{}
	switch {
	case o.DisplayData != nil:
		md = o.DisplayData.Metadata
	case o.ExecuteResult != nil:
		md = o.ExecuteResult.Metadata
	default:
		return ""
	}
	id, _ := md[DisplayIDKey].(string)
	return id
}

// MarshalJSON implements the json.Marshaler interface.
func (o Output) MarshalJSON() ([]byte, error) {
	return union.Marshal(o)
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (o *Output) UnmarshalJSON(data []byte) error {
	if err := union.Unmarshal(data, o); err != nil {
		return err
	}

	type DefaultParser *Output
	return errors.Wrap(json.Unmarshal(data, DefaultParser(o)), "failed to parse output")
}

// StreamOutput is an append-only chunk of stdout or stderr.
type StreamOutput struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// ErrorOutput is a kernel-reported execution error.
type ErrorOutput struct {
	Ename     string   `json:"ename"`
	Evalue    string   `json:"evalue"`
	Traceback []string `json:"traceback,omitempty"`
}

// DisplayDataOutput is rich display content keyed by MIME type.
type DisplayDataOutput struct {
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecuteResultOutput is the final value of an execution, displayed like
// display data.
type ExecuteResultOutput struct {
	Data     map[string]interface{} `json:"data"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}
