package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCellJSONRoundTrip(t *testing.T) {
	orig := Cell{
		ID:       "c1",
		Metadata: Metadata{"count": 2},
		Code: &CodeCell{
			Source:   "print('hi')",
			Language: "python",
			Outputs: []Output{
				{Stream: &StreamOutput{Name: "stdout", Text: "hi\n"}},
			},
		},
	}

	bs, err := json.Marshal(orig)
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(bs, &m))
	require.Equal(t, "code", m["type"])
	require.Equal(t, "c1", m["id"])
	require.Equal(t, "print('hi')", m["source"])

	var parsed Cell
	require.NoError(t, json.Unmarshal(bs, &parsed))
	require.Equal(t, orig.ID, parsed.ID)
	require.NotNil(t, parsed.Code)
	require.Equal(t, orig.Code.Source, parsed.Code.Source)
	require.Len(t, parsed.Code.Outputs, 1)
	require.NotNil(t, parsed.Code.Outputs[0].Stream)

	count, ok := parsed.Metadata.ExecutionCount()
	require.True(t, ok)
	require.Equal(t, 2, count)
}

func TestCellUnknownTypeDecodesEmpty(t *testing.T) {
	var parsed Cell
	err := json.Unmarshal([]byte(`{"type":"widget","id":"c9","zoom":3}`), &parsed)
	require.NoError(t, err)
	require.Equal(t, CellID("c9"), parsed.ID)
	require.Equal(t, "", parsed.Type())
}

func TestAddOutputAppendsWithoutDisplayID(t *testing.T) {
	cell := CodeCell{}
	cell.AddOutput(Output{Stream: &StreamOutput{Name: "stdout", Text: "a"}})
	cell.AddOutput(Output{Stream: &StreamOutput{Name: "stdout", Text: "b"}})
	require.Len(t, cell.Outputs, 2)
}

func TestAddOutputReplacesMatchingDisplayID(t *testing.T) {
	cell := CodeCell{}
	cell.AddOutput(Output{Stream: &StreamOutput{Name: "stdout", Text: "before"}})
	cell.AddOutput(Output{DisplayData: &DisplayDataOutput{
		Data:     map[string]interface{}{"text/plain": "0%"},
		Metadata: map[string]interface{}{DisplayIDKey: "progress"},
	}})
	cell.AddOutput(Output{DisplayData: &DisplayDataOutput{
		Data:     map[string]interface{}{"text/plain": "50%"},
		Metadata: map[string]interface{}{DisplayIDKey: "progress"},
	}})

	require.Len(t, cell.Outputs, 2)
	require.Equal(t, "50%", cell.Outputs[1].DisplayData.Data["text/plain"])

	// A different display id appends.
	cell.AddOutput(Output{DisplayData: &DisplayDataOutput{
		Data:     map[string]interface{}{"text/plain": "eta"},
		Metadata: map[string]interface{}{DisplayIDKey: "eta"},
	}})
	require.Len(t, cell.Outputs, 3)
}

func TestExecutionCountAcceptsFloat64(t *testing.T) {
	md := Metadata{"count": float64(4)}
	count, ok := md.ExecutionCount()
	require.True(t, ok)
	require.Equal(t, 4, count)

	_, ok = Metadata{}.ExecutionCount()
	require.False(t, ok)
}
