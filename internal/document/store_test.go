package document

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/inkwell-ai/inkwell/pkg/model"
)

func testStore() *Store {
	return NewStore(&model.Notebook{
		ID:   "nb1",
		Name: "before",
		Cells: []model.Cell{
			{ID: "c1", Code: &model.CodeCell{Source: "1"}},
		},
	})
}

func TestUpdateMarksDirtyAndTouches(t *testing.T) {
	s := testStore()
	stamp := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return stamp }

	s.Update(func(nb *model.Notebook) { nb.Name = "after" }, UpdateOptions{})
	require.True(t, s.Dirty())

	snap := s.Snapshot()
	require.Equal(t, "after", snap.Name)
	require.Equal(t, stamp, snap.UpdatedAt)
}

func TestUpdateOptionsMatrix(t *testing.T) {
	cases := []struct {
		name      string
		opts      UpdateOptions
		wantDirty bool
		wantTouch bool
	}{
		{"default", UpdateOptions{}, true, true},
		{"no persist", UpdateOptions{NoPersist: true}, false, true},
		{"no touch", UpdateOptions{NoTouch: true}, true, false},
		{"bookkeeping", UpdateOptions{NoPersist: true, NoTouch: true}, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := testStore()
			before := s.Snapshot().UpdatedAt
			s.now = func() time.Time { return before.Add(time.Hour) }

			s.Update(func(nb *model.Notebook) { nb.Name = "x" }, tc.opts)
			require.Equal(t, tc.wantDirty, s.Dirty())
			require.Equal(t, tc.wantTouch, !s.Snapshot().UpdatedAt.Equal(before))
		})
	}
}

func TestHooksReceiveDeepSnapshot(t *testing.T) {
	s := testStore()
	var got *model.Notebook
	s.AddHook(func(snapshot *model.Notebook, _ UpdateOptions, _ bool) {
		got = snapshot
	})

	s.Update(func(nb *model.Notebook) { nb.Name = "x" }, UpdateOptions{})
	require.NotNil(t, got)

	// Mutating the hook's snapshot must not leak into the store.
	got.Cells[0].Code.Source = "tampered"
	s.With(func(nb *model.Notebook) {
		require.Equal(t, "1", nb.Cells[0].Code.Source)
	})
}

func TestSuppressIsVisibleToHooks(t *testing.T) {
	s := testStore()
	var flags []bool
	s.AddHook(func(_ *model.Notebook, _ UpdateOptions, suppressed bool) {
		flags = append(flags, suppressed)
	})

	s.Update(func(nb *model.Notebook) {}, UpdateOptions{})
	s.Suppress(func() {
		s.Update(func(nb *model.Notebook) {}, UpdateOptions{})
	})
	s.Update(func(nb *model.Notebook) {}, UpdateOptions{})

	require.Equal(t, []bool{false, true, false}, flags)
}

func TestReplaceSwapsDocumentAndClearsDirty(t *testing.T) {
	s := testStore()
	s.Update(func(nb *model.Notebook) { nb.Name = "local edit" }, UpdateOptions{})
	require.True(t, s.Dirty())

	incoming := &model.Notebook{ID: "nb1", Name: "remote", Cells: []model.Cell{}}
	var suppressedSeen bool
	s.AddHook(func(_ *model.Notebook, _ UpdateOptions, suppressed bool) {
		suppressedSeen = suppressed
	})
	s.Replace(incoming)

	require.False(t, s.Dirty())
	require.True(t, suppressedSeen)
	require.Equal(t, "remote", s.Snapshot().Name)
	require.Empty(t, s.Snapshot().Cells)
}
