package model

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/pkg/check"
)

func testNotebook() *Notebook {
	return &Notebook{
		ID: "nb1",
		Cells: []Cell{
			{ID: "a", Markdown: &MarkdownCell{Source: "# a"}},
			{ID: "b", Code: &CodeCell{Source: "1"}},
			{ID: "c", Code: &CodeCell{Source: "2"}},
		},
	}
}

func cellOrder(nb *Notebook) []CellID {
	out := make([]CellID, 0, len(nb.Cells))
	for _, c := range nb.Cells {
		out = append(out, c.ID)
	}
	return out
}

func TestInsertCellClampsIndex(t *testing.T) {
	nb := testNotebook()
	nb.InsertCell(Cell{ID: "x", Markdown: &MarkdownCell{}}, -5)
	require.Equal(t, []CellID{"x", "a", "b", "c"}, cellOrder(nb))

	nb.InsertCell(Cell{ID: "y", Markdown: &MarkdownCell{}}, 99)
	require.Equal(t, []CellID{"x", "a", "b", "c", "y"}, cellOrder(nb))
}

func TestMoveCell(t *testing.T) {
	nb := testNotebook()
	require.True(t, nb.MoveCell("c", 0))
	require.Equal(t, []CellID{"c", "a", "b"}, cellOrder(nb))
	require.False(t, nb.MoveCell("nope", 0))
}

func TestRemoveCell(t *testing.T) {
	nb := testNotebook()
	require.True(t, nb.RemoveCell("b"))
	require.Equal(t, []CellID{"a", "c"}, cellOrder(nb))
	require.False(t, nb.RemoveCell("b"))
}

func TestValidateRejectsDuplicateCellIDs(t *testing.T) {
	nb := testNotebook()
	require.NoError(t, check.Validate(nb))

	nb.Cells = append(nb.Cells, Cell{ID: "a", Markdown: &MarkdownCell{}})
	require.Error(t, check.Validate(nb))
}

func TestCloneIsDeep(t *testing.T) {
	nb := testNotebook()
	clone := nb.Clone()

	clone.Cells[1].Code.Source = "changed"
	clone.Cells[1].SetMetadata("count", 9)
	require.Equal(t, "1", nb.Cells[1].Code.Source)
	_, ok := nb.Cells[1].Metadata.ExecutionCount()
	require.False(t, ok)
}
