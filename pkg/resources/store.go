package resources

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"
)

// StorePrefix is the location prefix of templates kept in a SQLStore.
const StorePrefix = "/db/"

// ErrNotFound is returned when a stored template does not exist.
var ErrNotFound = errors.New("template not found")

// StoredTemplate describes a template row, without its source.
type StoredTemplate struct {
	Name      string    `json:"name"`
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SetupSchema creates the templates table. It is idempotent.
func SetupSchema(db *sql.DB) error {
	const schemaTemplates = `
CREATE TABLE IF NOT EXISTS templates (
    name TEXT PRIMARY KEY,
    source TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTemplates); err != nil {
		return fmt.Errorf("could not create schema: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

// SQLStore keeps template sources in the templates table and serves them as a
// Provider under StorePrefix.
type SQLStore struct {
	db         *sql.DB
	stmtPut    *sql.Stmt
	stmtGet    *sql.Stmt
	stmtDelete *sql.Stmt
	stmtList   *sql.Stmt
}

// NewSQLStore prepares the store's statements. SetupSchema must have been run
// on db.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	stmtPut, err := db.Prepare(`INSERT INTO templates (name, source, updated_at) VALUES (?, ?, ?) ON CONFLICT(name) DO UPDATE SET source = excluded.source, updated_at = excluded.updated_at;`)
	if err != nil {
		return nil, err
	}

	stmtGet, err := db.Prepare(`SELECT source FROM templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtDelete, err := db.Prepare(`DELETE FROM templates WHERE name = ?;`)
	if err != nil {
		return nil, err
	}

	stmtList, err := db.Prepare(`SELECT name, length(CAST(source AS BLOB)), updated_at FROM templates ORDER BY name;`)
	if err != nil {
		return nil, err
	}

	return &SQLStore{
		db:         db,
		stmtPut:    stmtPut,
		stmtGet:    stmtGet,
		stmtDelete: stmtDelete,
		stmtList:   stmtList,
	}, nil
}

// Close releases the prepared statements. The database stays open.
func (s *SQLStore) Close() {
	_ = s.stmtPut.Close()
	_ = s.stmtGet.Close()
	_ = s.stmtDelete.Close()
	_ = s.stmtList.Close()
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, "/*") {
		return fmt.Errorf("invalid template name %q", name)
	}
	return nil
}

// Put inserts or replaces the source stored under name.
func (s *SQLStore) Put(ctx context.Context, name, source string) error {
	if err := validName(name); err != nil {
		return err
	}
	if _, err := s.stmtPut.ExecContext(ctx, name, source, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to store template %q: %w", name, err)
	}
	return nil
}

// Get returns the source stored under name, or ErrNotFound.
func (s *SQLStore) Get(ctx context.Context, name string) (string, error) {
	var source string
	err := s.stmtGet.QueryRowContext(ctx, name).Scan(&source)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return "", fmt.Errorf("failed to fetch template %q: %w", name, err)
	}
	return source, nil
}

// Delete removes the template stored under name, or returns ErrNotFound.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res, err := s.stmtDelete.ExecContext(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete template %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Templates lists the stored templates ordered by name.
func (s *SQLStore) Templates(ctx context.Context) ([]StoredTemplate, error) {
	rows, err := s.stmtList.QueryContext(ctx)
	if err != nil {
		return nil, err
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	var templates []StoredTemplate
	for rows.Next() {
		var t StoredTemplate
		var updated int64
		if err = rows.Scan(&t.Name, &t.Size, &updated); err != nil {
			return nil, err
		}
		t.UpdatedAt = time.Unix(updated, 0).UTC()
		templates = append(templates, t)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return templates, nil
}

// List returns "/db/<name>" for every stored template.
func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	templates, err := s.Templates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stored templates: %w", err)
	}
	locations := make([]string, len(templates))
	for i, t := range templates {
		locations[i] = StorePrefix + t.Name
	}
	return locations, nil
}

// Open serves "/db/<name>" locations. Any other location, or a missing
// template, reports fs.ErrNotExist.
func (s *SQLStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	name, ok := strings.CutPrefix(location, StorePrefix)
	if !ok || validName(name) != nil {
		return nil, &fs.PathError{Op: "open", Path: location, Err: fs.ErrNotExist}
	}
	source, err := s.Get(ctx, name)
	if errors.Is(err, ErrNotFound) {
		return nil, &fs.PathError{Op: "open", Path: location, Err: fs.ErrNotExist}
	}
	if err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(source)), nil
}
