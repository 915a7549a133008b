// Package model defines the notebook document model shared by the engine, the
// wire protocol, and the reference server.
package model

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/inkwell-ai/inkwell/pkg/check"
)

// NotebookID is the opaque identity of a notebook document.
type NotebookID string

// CellID is the opaque identity of a cell, unique within its notebook.
type CellID string

// SessionID is the opaque identity of one live kernel binding.
type SessionID string

// ActorID identifies the client that originated a collaboration broadcast.
type ActorID string

// Environment describes the runtime a notebook's code cells execute under.
type Environment struct {
	Runtime   string            `json:"runtime"`
	Version   string            `json:"version,omitempty"`
	Packages  []string          `json:"packages,omitempty"`
	Variables map[string]string `json:"variables,omitempty"`
}

// SQLConnection is a named database connection a notebook's sql cells may target.
type SQLConnection struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// Notebook is the authoritative document: an ordered sequence of cells plus an
// environment descriptor. Cell order is the authoritative execution and
// display order.
type Notebook struct {
	ID             NotebookID      `json:"id"`
	Name           string          `json:"name"`
	Cells          []Cell          `json:"cells"`
	Environment    Environment     `json:"environment"`
	SQLConnections []SQLConnection `json:"sqlConnections,omitempty"`
	Published      bool            `json:"published"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Validate implements the check.Validatable interface.
func (n Notebook) Validate() []error {
	errs := []error{check.NotEmpty(string(n.ID), "notebook id must be set")}
	seen := make(map[CellID]bool, len(n.Cells))
	for _, c := range n.Cells {
		if seen[c.ID] {
			errs = append(errs, errors.Errorf("duplicate cell id: %s", c.ID))
		}
		seen[c.ID] = true
	}
	return errs
}

// CellIndex returns the position of the cell with the given id, or -1.
func (n *Notebook) CellIndex(id CellID) int {
	for i := range n.Cells {
		if n.Cells[i].ID == id {
			return i
		}
	}
	return -1
}

// CellByID returns a pointer to the cell with the given id, or nil. The pointer
// aliases the notebook's cell slice; callers must hold whatever lock guards the
// document.
func (n *Notebook) CellByID(id CellID) *Cell {
	if i := n.CellIndex(id); i >= 0 {
		return &n.Cells[i]
	}
	return nil
}

// InsertCell inserts the cell at the given index, clamped to the valid range.
func (n *Notebook) InsertCell(c Cell, index int) {
	if index < 0 {
		index = 0
	}
	if index > len(n.Cells) {
		index = len(n.Cells)
	}
	n.Cells = append(n.Cells, Cell{})
	copy(n.Cells[index+1:], n.Cells[index:])
	n.Cells[index] = c
}

// RemoveCell removes the cell with the given id and reports whether it was present.
func (n *Notebook) RemoveCell(id CellID) bool {
	i := n.CellIndex(id)
	if i < 0 {
		return false
	}
	n.Cells = append(n.Cells[:i], n.Cells[i+1:]...)
	return true
}

// MoveCell moves the cell with the given id to the given index and reports
// whether it was present.
func (n *Notebook) MoveCell(id CellID, index int) bool {
	i := n.CellIndex(id)
	if i < 0 {
		return false
	}
	c := n.Cells[i]
	n.Cells = append(n.Cells[:i], n.Cells[i+1:]...)
	n.InsertCell(c, index)
	return true
}

// Connection returns the sql connection with the given id, or nil.
func (n *Notebook) Connection(id string) *SQLConnection {
	for i := range n.SQLConnections {
		if n.SQLConnections[i].ID == id {
			return &n.SQLConnections[i]
		}
	}
	return nil
}

// Clone returns a deep copy of the notebook. The engine hands copies to
// channels and hooks so that no component ever holds a second live reference
// into the authoritative document.
func (n *Notebook) Clone() *Notebook {
	if n == nil {
		return nil
	}
	bs, err := json.Marshal(n)
	if err != nil {
		panic(errors.Wrap(err, "cloning notebook"))
	}
	var out Notebook
	if err := json.Unmarshal(bs, &out); err != nil {
		panic(errors.Wrap(err, "cloning notebook"))
	}
	return &out
}
