package nbserver

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"

	"github.com/inkwell-ai/inkwell/pkg/model"
)

// notebookRow stores one notebook as an opaque JSON document. The server never
// interprets cell contents; clients own the document schema.
type notebookRow struct {
	bun.BaseModel `bun:"table:notebooks"`

	ID        string    `bun:"id,pk"`
	Document  []byte    `bun:"document,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type storage struct {
	db *bun.DB
}

// openStorage opens (or creates) the sqlite database at dsn. Use ":memory:"
// for an ephemeral store.
func openStorage(dsn string) (*storage, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening sqlite database")
	}
	// modernc sqlite serializes access itself; more than one writer conn
	// produces SQLITE_BUSY under load.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.NewCreateTable().Model((*notebookRow)(nil)).IfNotExists().Exec(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "creating notebooks table")
	}
	return &storage{db: db}, nil
}

func (s *storage) close() error {
	return s.db.Close()
}

func (s *storage) create(ctx context.Context, nb *model.Notebook) error {
	doc, err := json.Marshal(nb)
	if err != nil {
		return errors.Wrap(err, "encoding notebook")
	}
	_, err = s.db.NewInsert().Model(&notebookRow{
		ID:        string(nb.ID),
		Document:  doc,
		CreatedAt: nb.CreatedAt,
		UpdatedAt: nb.UpdatedAt,
	}).Exec(ctx)
	return errors.Wrapf(err, "inserting notebook %s", nb.ID)
}

func (s *storage) get(ctx context.Context, id model.NotebookID) (*model.Notebook, error) {
	row := &notebookRow{}
	err := s.db.NewSelect().Model(row).Where("id = ?", string(id)).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Errorf("notebook %s not found", id)
	} else if err != nil {
		return nil, errors.Wrapf(err, "loading notebook %s", id)
	}

	var nb model.Notebook
	if err := json.Unmarshal(row.Document, &nb); err != nil {
		return nil, errors.Wrapf(err, "decoding notebook %s", id)
	}
	return &nb, nil
}

func (s *storage) put(ctx context.Context, nb *model.Notebook) error {
	doc, err := json.Marshal(nb)
	if err != nil {
		return errors.Wrap(err, "encoding notebook")
	}
	res, err := s.db.NewUpdate().Model(&notebookRow{
		ID:        string(nb.ID),
		Document:  doc,
		UpdatedAt: nb.UpdatedAt,
	}).Column("document", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "updating notebook %s", nb.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("notebook %s not found", nb.ID)
	}
	return nil
}

func (s *storage) list(ctx context.Context) ([]*model.Notebook, error) {
	var rows []notebookRow
	if err := s.db.NewSelect().Model(&rows).Order("created_at").Scan(ctx); err != nil {
		return nil, errors.Wrap(err, "listing notebooks")
	}

	out := make([]*model.Notebook, 0, len(rows))
	for _, row := range rows {
		var nb model.Notebook
		if err := json.Unmarshal(row.Document, &nb); err != nil {
			return nil, errors.Wrapf(err, "decoding notebook %s", row.ID)
		}
		out = append(out, &nb)
	}
	return out, nil
}

func (s *storage) delete(ctx context.Context, id model.NotebookID) error {
	res, err := s.db.NewDelete().Model((*notebookRow)(nil)).
		Where("id = ?", string(id)).Exec(ctx)
	if err != nil {
		return errors.Wrapf(err, "deleting notebook %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("notebook %s not found", id)
	}
	return nil
}
