// Package sqlstore implements the persistence collaborator on database/sql.
// Objects live in one row per id with their values as tagged JSON; real
// endpoint references live in a separate table so collection queries can
// use an index.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"txcore/pkg/domain"
)

// Compile-time contract assertion.
var _ domain.Persistence = (*Store)(nil)

// Dialect captures the differences between SQL backends.
type Dialect struct {
	Name string
	// Numbered placeholders ($1, $2, ...) instead of '?'.
	Numbered bool
}

// Dialects of the supported backends.
var (
	SQLite   = Dialect{Name: "sqlite"}
	Postgres = Dialect{Name: "postgres", Numbered: true}
)

// Rebind rewrites '?' placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Store is a domain.Persistence over a migrated database.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// New wraps db. The schema must already be migrated.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect returns the configured dialect.
func (s *Store) Dialect() Dialect { return s.dialect }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Load returns the stored record for id.
func (s *Store) Load(ctx context.Context, id domain.ObjectID) (domain.Record, error) {
	var (
		version int64
		payload []byte
	)
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT version, payload FROM objects WHERE class = ? AND id = ?`), id.Class, id.Value).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Record{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Record{}, fmt.Errorf("select %s: %w", id, err)
	}
	return s.decode(ctx, s.db, id, version, payload)
}

func (s *Store) decode(ctx context.Context, q querier, id domain.ObjectID, version int64, payload []byte) (domain.Record, error) {
	enc := domain.EncodedRecord{ID: id, Version: version, Refs: map[string]domain.ObjectID{}}
	if err := json.Unmarshal(payload, &enc.Values); err != nil {
		return domain.Record{}, fmt.Errorf("decode %s: %w", id, err)
	}
	rows, err := q.QueryContext(ctx, s.dialect.Rebind(`SELECT property, target_class, target_id FROM object_refs WHERE class = ? AND id = ?`), id.Class, id.Value)
	if err != nil {
		return domain.Record{}, fmt.Errorf("select refs of %s: %w", id, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var property string
		var target domain.ObjectID
		if err := rows.Scan(&property, &target.Class, &target.Value); err != nil {
			return domain.Record{}, fmt.Errorf("scan refs of %s: %w", id, err)
		}
		enc.Refs[property] = target
	}
	if err := rows.Err(); err != nil {
		return domain.Record{}, err
	}
	return enc.Decode()
}

// ExecuteCollectionQuery returns the objects of q.Class whose q.Property
// references q.Target, ordered by id.
func (s *Store) ExecuteCollectionQuery(ctx context.Context, q domain.CollectionQuery) ([]domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT o.id, o.version, o.payload
		FROM object_refs r JOIN objects o ON o.class = r.class AND o.id = r.id
		WHERE r.class = ? AND r.property = ? AND r.target_class = ? AND r.target_id = ?
		ORDER BY o.id`), q.Class, q.Property, q.Target.Class, q.Target.Value)
	if err != nil {
		return nil, fmt.Errorf("collection query %s.%s: %w", q.Class, q.Property, err)
	}
	type row struct {
		id      string
		version int64
		payload []byte
	}
	var found []row
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.version, &r.payload); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan collection row: %w", err)
		}
		found = append(found, r)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	out := make([]domain.Record, 0, len(found))
	for _, r := range found {
		rec, err := s.decode(ctx, s.db, domain.ObjectID{Class: q.Class, Value: r.id}, r.version, r.payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Save applies changes in one database transaction.
func (s *Store) Save(ctx context.Context, changes []domain.Change) (retErr error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, ch := range changes {
		if err := s.apply(ctx, tx, ch); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, ch domain.Change) error {
	id := ch.ID
	switch ch.Action {
	case domain.ActionCreate:
		var exists int
		err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM objects WHERE class = ? AND id = ?`), id.Class, id.Value).Scan(&exists)
		if err == nil {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, id)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check %s: %w", id, err)
		}
		payload, err := encodePayload(ch)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO objects (class, id, version, payload) VALUES (?, ?, 1, ?)`), id.Class, id.Value, payload); err != nil {
			return fmt.Errorf("insert %s: %w", id, err)
		}
		return s.writeRefs(ctx, tx, id, ch.After.Refs)
	case domain.ActionUpdate:
		payload, err := encodePayload(ch)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`UPDATE objects SET version = version + 1, payload = ? WHERE class = ? AND id = ? AND version = ?`), payload, id.Class, id.Value, beforeVersion(ch))
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		if err := s.checkAffected(ctx, tx, res, ch); err != nil {
			return err
		}
		return s.writeRefs(ctx, tx, id, ch.After.Refs)
	case domain.ActionDelete:
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM objects WHERE class = ? AND id = ? AND version = ?`), id.Class, id.Value, beforeVersion(ch))
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}
		if err := s.checkAffected(ctx, tx, res, ch); err != nil {
			return err
		}
		return s.writeRefs(ctx, tx, id, nil)
	default:
		return fmt.Errorf("unknown action %q for %s", ch.Action, id)
	}
}

func (s *Store) writeRefs(ctx context.Context, tx *sql.Tx, id domain.ObjectID, refs map[string]domain.ObjectID) error {
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM object_refs WHERE class = ? AND id = ?`), id.Class, id.Value); err != nil {
		return fmt.Errorf("clear refs of %s: %w", id, err)
	}
	for property, target := range refs {
		if target.IsZero() {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO object_refs (class, id, property, target_class, target_id) VALUES (?, ?, ?, ?, ?)`),
			id.Class, id.Value, property, target.Class, target.Value); err != nil {
			return fmt.Errorf("insert ref %s.%s: %w", id, property, err)
		}
	}
	return nil
}

// checkAffected tells a stale version apart from a missing row.
func (s *Store) checkAffected(ctx context.Context, tx *sql.Tx, res sql.Result, ch domain.Change) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}
	var current int64
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT version FROM objects WHERE class = ? AND id = ?`), ch.ID.Class, ch.ID.Value).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", domain.ErrNotFound, ch.ID)
	}
	if err != nil {
		return fmt.Errorf("check %s: %w", ch.ID, err)
	}
	return fmt.Errorf("%w: %s at version %d, prepared against %d", domain.ErrConcurrencyConflict, ch.ID, current, beforeVersion(ch))
}

func beforeVersion(ch domain.Change) int64 {
	if ch.Before == nil {
		return 0
	}
	return ch.Before.Version
}

func encodePayload(ch domain.Change) (string, error) {
	if ch.After == nil {
		return "", fmt.Errorf("%s %s: missing record", ch.Action, ch.ID)
	}
	values, err := domain.EncodeValues(ch.After.Values)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", ch.Action, ch.ID, err)
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", ch.Action, ch.ID, err)
	}
	return string(data), nil
}

// Count returns the number of stored objects of class, or of all classes
// when class is empty.
func (s *Store) Count(ctx context.Context, class string) (int, error) {
	query, args := `SELECT COUNT(*) FROM objects`, []any{}
	if class != "" {
		query, args = query+` WHERE class = ?`, append(args, class)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count objects: %w", err)
	}
	return n, nil
}
