package space

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"anyback-go/internal/anyback"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteSpace is a Store over the spaces, objects, object_links and files
// tables of the anyback database. The schema is owned by the database
// migrations.
type SQLiteSpace struct {
	db    *sql.DB
	clock anyback.Clock
	idgen anyback.IDGenerator
}

var _ Store = (*SQLiteSpace)(nil)

// NewSQLiteSpace wraps a migrated database connection.
func NewSQLiteSpace(db *sql.DB, clock anyback.Clock, idgen anyback.IDGenerator) *SQLiteSpace {
	return &SQLiteSpace{db: db, clock: clock, idgen: idgen}
}

func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func (s *SQLiteSpace) CreateSpace(ctx context.Context, name string) (anyback.Space, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return anyback.Space{}, fmt.Errorf("%w: space name must not be empty", anyback.ErrInvalid)
	}
	sp := anyback.Space{ID: s.idgen.New(), Name: name}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spaces (id, name, created_at) VALUES (?, ?, ?)`,
		sp.ID, sp.Name, s.clock.Now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return anyback.Space{}, fmt.Errorf("%w: space %q", anyback.ErrAlreadyExists, name)
		}
		return anyback.Space{}, fmt.Errorf("creating space: %w", err)
	}
	return sp, nil
}

func (s *SQLiteSpace) ListSpaces(ctx context.Context) ([]anyback.Space, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM spaces ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing spaces: %w", err)
	}
	defer rows.Close()

	var out []anyback.Space
	for rows.Next() {
		var sp anyback.Space
		if err := rows.Scan(&sp.ID, &sp.Name); err != nil {
			return nil, fmt.Errorf("scanning space: %w", err)
		}
		out = append(out, sp)
	}
	return out, rows.Err()
}

func (s *SQLiteSpace) DeleteSpace(ctx context.Context, ref string) error {
	sp, err := s.ResolveSpace(ctx, ref)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM spaces WHERE id = ?`, sp.ID); err != nil {
		return fmt.Errorf("deleting space %s: %w", sp.ID, err)
	}
	return nil
}

// ResolveSpace matches ref against space ids, then names, then names
// ignoring case.
func (s *SQLiteSpace) ResolveSpace(ctx context.Context, ref string) (anyback.Space, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return anyback.Space{}, fmt.Errorf("%w: space reference must not be empty", anyback.ErrInvalid)
	}
	queries := []string{
		`SELECT id, name FROM spaces WHERE id = ?`,
		`SELECT id, name FROM spaces WHERE name = ?`,
	}
	for _, q := range queries {
		var sp anyback.Space
		err := s.db.QueryRowContext(ctx, q, ref).Scan(&sp.ID, &sp.Name)
		if err == nil {
			return sp, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return anyback.Space{}, fmt.Errorf("resolving space: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM spaces WHERE name = ? COLLATE NOCASE`, ref)
	if err != nil {
		return anyback.Space{}, fmt.Errorf("resolving space: %w", err)
	}
	defer rows.Close()
	var folded []anyback.Space
	for rows.Next() {
		var sp anyback.Space
		if err := rows.Scan(&sp.ID, &sp.Name); err != nil {
			return anyback.Space{}, fmt.Errorf("resolving space: %w", err)
		}
		folded = append(folded, sp)
	}
	if err := rows.Err(); err != nil {
		return anyback.Space{}, fmt.Errorf("resolving space: %w", err)
	}
	if len(folded) == 1 {
		return folded[0], nil
	}
	return anyback.Space{}, fmt.Errorf("%w: %s", anyback.ErrSpaceNotFound, ref)
}

func requireSpace(ctx context.Context, q querier, spaceID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM spaces WHERE id = ?`, spaceID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", anyback.ErrSpaceNotFound, spaceID)
	}
	if err != nil {
		return fmt.Errorf("looking up space: %w", err)
	}
	return nil
}

// notFound builds the error for a missing object, distinguishing a missing
// space.
func (s *SQLiteSpace) notFound(ctx context.Context, spaceID, id string) error {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", anyback.ErrObjectNotFound, id)
}

const objectColumns = `id, name, type_key, layout, archived, last_modified, file_name`

func scanInfo(scan func(dest ...any) error) (anyback.ObjectInfo, error) {
	var (
		info     anyback.ObjectInfo
		modified int64
	)
	if err := scan(&info.ID, &info.Name, &info.TypeKey, &info.Layout, &info.Archived, &modified, &info.FileName); err != nil {
		return anyback.ObjectInfo{}, err
	}
	info.LastModified = fromUnix(modified)
	return info, nil
}

func (s *SQLiteSpace) ListObjects(ctx context.Context, spaceID string, filter anyback.ObjectFilter) ([]anyback.ObjectInfo, error) {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return nil, err
	}

	query := `SELECT ` + objectColumns + ` FROM objects WHERE space_id = ?`
	args := []any{spaceID}
	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	if len(filter.TypeKeys) > 0 {
		query += ` AND type_key IN (?` + strings.Repeat(`, ?`, len(filter.TypeKeys)-1) + `)`
		for _, k := range filter.TypeKeys {
			args = append(args, k)
		}
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}
	var out []anyback.ObjectInfo
	for rows.Next() {
		info, err := scanInfo(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning object: %w", err)
		}
		out = append(out, info)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("listing objects: %w", err)
	}

	links, err := s.links(ctx, spaceID, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Links = links[out[i].ID]
	}
	return out, nil
}

// links loads outgoing links by object id, for one object or, when id is
// empty, the whole space.
func (s *SQLiteSpace) links(ctx context.Context, spaceID, id string) (map[string][]string, error) {
	query := `SELECT object_id, target_id FROM object_links WHERE space_id = ?`
	args := []any{spaceID}
	if id != "" {
		query += ` AND object_id = ?`
		args = append(args, id)
	}
	query += ` ORDER BY object_id, position`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("loading links: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		out[from] = append(out[from], to)
	}
	return out, rows.Err()
}

func (s *SQLiteSpace) GetObject(ctx context.Context, spaceID, id string) (anyback.ObjectInfo, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+objectColumns+` FROM objects WHERE space_id = ? AND id = ?`, spaceID, id)
	info, err := scanInfo(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return anyback.ObjectInfo{}, s.notFound(ctx, spaceID, id)
	}
	if err != nil {
		return anyback.ObjectInfo{}, fmt.Errorf("getting object %s: %w", id, err)
	}
	links, err := s.links(ctx, spaceID, id)
	if err != nil {
		return anyback.ObjectInfo{}, err
	}
	info.Links = links[id]
	return info, nil
}

// ListTypes returns the registered types plus any type key used by an object
// that has no registered type.
func (s *SQLiteSpace) ListTypes(ctx context.Context, spaceID string) ([]anyback.ObjectType, error) {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, key, name FROM object_types WHERE space_id = ?`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("listing types: %w", err)
	}
	var types []anyback.ObjectType
	for rows.Next() {
		var t anyback.ObjectType
		if err := rows.Scan(&t.ID, &t.Key, &t.Name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning type: %w", err)
		}
		types = append(types, t)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("listing types: %w", err)
	}

	rows, err = s.db.QueryContext(ctx, `SELECT DISTINCT type_key FROM objects WHERE space_id = ?`, spaceID)
	if err != nil {
		return nil, fmt.Errorf("listing type keys: %w", err)
	}
	defer rows.Close()
	var used []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scanning type key: %w", err)
		}
		used = append(used, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing type keys: %w", err)
	}
	return withUsedKeys(types, used), nil
}

func (s *SQLiteSpace) FetchSnapshot(ctx context.Context, spaceID, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM objects WHERE space_id = ? AND id = ?`, spaceID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.notFound(ctx, spaceID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching snapshot %s: %w", id, err)
	}
	return data, nil
}

func (s *SQLiteSpace) FetchFile(ctx context.Context, spaceID, id string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM files WHERE space_id = ? AND object_id = ?`, spaceID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		exists, err := s.ObjectExists(ctx, spaceID, id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", anyback.ErrObjectNotFound, id)
		}
		return nil, fmt.Errorf("%w: file payload of %s", anyback.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("fetching file %s: %w", id, err)
	}
	return data, nil
}

func (s *SQLiteSpace) LastModified(ctx context.Context, spaceID, id string) (time.Time, error) {
	var modified int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_modified FROM objects WHERE space_id = ? AND id = ?`, spaceID, id).Scan(&modified)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, s.notFound(ctx, spaceID, id)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("reading last modified of %s: %w", id, err)
	}
	return fromUnix(modified), nil
}

func objectExists(ctx context.Context, q querier, spaceID, id string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM objects WHERE space_id = ? AND id = ?`, spaceID, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking object %s: %w", id, err)
	}
	return true, nil
}

func (s *SQLiteSpace) ObjectExists(ctx context.Context, spaceID, id string) (bool, error) {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return false, err
	}
	return objectExists(ctx, s.db, spaceID, id)
}

func (s *SQLiteSpace) DeleteObject(ctx context.Context, spaceID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM objects WHERE space_id = ? AND id = ?`, spaceID, id)
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return s.notFound(ctx, spaceID, id)
	}
	return nil
}

func putType(ctx context.Context, q querier, spaceID string, t anyback.ObjectType) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO object_types (space_id, id, key, name) VALUES (?, ?, ?, ?)
		 ON CONFLICT (space_id, id) DO UPDATE SET key = excluded.key, name = excluded.name`,
		spaceID, t.ID, t.Key, t.Name,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: type key %q", anyback.ErrAlreadyExists, t.Key)
		}
		return fmt.Errorf("storing type %s: %w", t.ID, err)
	}
	return nil
}

func (s *SQLiteSpace) PutType(ctx context.Context, spaceID string, t anyback.ObjectType) error {
	if t.ID == "" || t.Key == "" {
		return fmt.Errorf("%w: object type needs an id and a key", anyback.ErrInvalid)
	}
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return err
	}
	return putType(ctx, s.db, spaceID, t)
}

// putObject writes obj, its links and file payload, replacing what was
// stored under the same id.
func putObject(ctx context.Context, q querier, spaceID string, obj Object) error {
	info := obj.Info
	_, err := q.ExecContext(ctx,
		`INSERT INTO objects (space_id, id, name, type_key, layout, archived, last_modified, file_name, snapshot)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (space_id, id) DO UPDATE SET
		   name = excluded.name, type_key = excluded.type_key, layout = excluded.layout,
		   archived = excluded.archived, last_modified = excluded.last_modified,
		   file_name = excluded.file_name, snapshot = excluded.snapshot`,
		spaceID, info.ID, info.Name, info.TypeKey, info.Layout, info.Archived,
		toUnix(info.LastModified), info.FileName, obj.Snapshot,
	)
	if err != nil {
		return fmt.Errorf("storing object %s: %w", info.ID, err)
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM object_links WHERE space_id = ? AND object_id = ?`, spaceID, info.ID); err != nil {
		return fmt.Errorf("clearing links of %s: %w", info.ID, err)
	}
	for i, target := range info.Links {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO object_links (space_id, object_id, position, target_id) VALUES (?, ?, ?, ?)`,
			spaceID, info.ID, i, target); err != nil {
			return fmt.Errorf("storing link of %s: %w", info.ID, err)
		}
	}

	if _, err := q.ExecContext(ctx,
		`DELETE FROM files WHERE space_id = ? AND object_id = ?`, spaceID, info.ID); err != nil {
		return fmt.Errorf("clearing file of %s: %w", info.ID, err)
	}
	if obj.File != nil {
		if _, err := q.ExecContext(ctx,
			`INSERT INTO files (space_id, object_id, data) VALUES (?, ?, ?)`,
			spaceID, info.ID, obj.File); err != nil {
			return fmt.Errorf("storing file of %s: %w", info.ID, err)
		}
	}

	if t, ok := objectType(obj); ok {
		return putType(ctx, q, spaceID, t)
	}
	return nil
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *SQLiteSpace) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteSpace) PutObject(ctx context.Context, spaceID string, obj Object) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := requireSpace(ctx, tx, spaceID); err != nil {
			return err
		}
		return putObject(ctx, tx, spaceID, obj)
	})
}

func (s *SQLiteSpace) importObject(ctx context.Context, spaceID string, obj Object, opts anyback.ImportOptions) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if !opts.Replace {
			exists, err := objectExists(ctx, tx, spaceID, obj.Info.ID)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: object %s", anyback.ErrAlreadyExists, obj.Info.ID)
			}
		}
		return putObject(ctx, tx, spaceID, obj)
	})
}

func (s *SQLiteSpace) ImportSnapshots(ctx context.Context, spaceID string, items []anyback.SnapshotImport, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return nil, err
	}
	results := make([]anyback.ImportResult, 0, len(items))
	for _, item := range items {
		obj, err := ObjectFromSnapshot(item.ID, item.Data, item.File, item.FileName)
		if err == nil {
			err = s.importObject(ctx, spaceID, obj, opts)
		}
		results = append(results, anyback.ImportResult{ID: item.ID, Err: err})
	}
	return results, nil
}

func (s *SQLiteSpace) ImportPaths(ctx context.Context, spaceID, archivePath string, paths []string, opts anyback.ImportOptions) ([]anyback.ImportResult, error) {
	if err := requireSpace(ctx, s.db, spaceID); err != nil {
		return nil, err
	}
	pending, err := readArchivePaths(archivePath, paths)
	if err != nil {
		return nil, err
	}
	results := make([]anyback.ImportResult, 0, len(pending))
	for _, p := range pending {
		err := p.err
		if err == nil {
			err = s.importObject(ctx, spaceID, p.obj, opts)
		}
		results = append(results, anyback.ImportResult{ID: p.id, Err: err})
	}
	return results, nil
}
