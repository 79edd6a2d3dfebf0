package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/graphservice"
)

// SnapshotInfo describes one persisted snapshot.
type SnapshotInfo struct {
	ID       string    `json:"id"`
	TakenAt  time.Time `json:"taken_at"`
	Entities int       `json:"entities"`
	Edges    int       `json:"edges"`
}

// SourceChecksum pairs a source path with the checksum of the content folded
// into the graph.
type SourceChecksum struct {
	Path     string
	Checksum string
}

// SaveSnapshot replaces the persisted graph with snap inside one transaction
// and records a snapshot row. sources are upserted into the ledger in the
// same transaction.
func (db *DB) SaveSnapshot(ctx context.Context, snap *graphservice.Snapshot, sources ...SourceChecksum) (*SnapshotInfo, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	for _, table := range []string{"edges", "entity_dates", "entity_names", "entity_labels", "entities"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return nil, fmt.Errorf("index: clear %s: %w", table, err)
		}
	}

	stmts := map[string]string{
		"entity": `INSERT INTO entities (id, url, created_at) VALUES (?, ?, ?)`,
		"date":   `INSERT INTO entity_dates (entity_id, date) VALUES (?, ?)`,
		"name":   `INSERT INTO entity_names (entity_id, name) VALUES (?, ?)`,
		"label":  `INSERT INTO entity_labels (entity_id, label) VALUES (?, ?)`,
		"edge":   `INSERT INTO edges (source, target, position) VALUES (?, ?, ?)`,
	}
	prepared := make(map[string]*sql.Stmt, len(stmts))
	for k, q := range stmts {
		stmt, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("index: prepare %s insert: %w", k, err)
		}
		defer stmt.Close()
		prepared[k] = stmt
	}

	for _, e := range snap.Entities {
		if _, err := prepared["entity"].ExecContext(ctx, e.ID, e.URL, e.CreatedAt.String()); err != nil {
			return nil, fmt.Errorf("index: insert entity %d: %w", e.ID, err)
		}
		for _, d := range e.UpdatedAt {
			if _, err := prepared["date"].ExecContext(ctx, e.ID, d.String()); err != nil {
				return nil, fmt.Errorf("index: insert date: %w", err)
			}
		}
		for _, n := range e.Names {
			if _, err := prepared["name"].ExecContext(ctx, e.ID, n); err != nil {
				return nil, fmt.Errorf("index: insert name: %w", err)
			}
		}
		for _, l := range e.Labels {
			if _, err := prepared["label"].ExecContext(ctx, e.ID, l); err != nil {
				return nil, fmt.Errorf("index: insert label: %w", err)
			}
		}
	}
	// Edges go in after every entity exists so the foreign keys hold.
	for _, e := range snap.Entities {
		for pos, target := range e.Links {
			if _, err := prepared["edge"].ExecContext(ctx, e.ID, target, pos); err != nil {
				return nil, fmt.Errorf("index: insert edge %d->%d: %w", e.ID, target, err)
			}
		}
	}

	now := time.Now().UTC()
	for _, src := range sources {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sources (path, checksum, indexed_at)
			VALUES (?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET
				checksum   = excluded.checksum,
				indexed_at = excluded.indexed_at
		`, src.Path, src.Checksum, now)
		if err != nil {
			return nil, fmt.Errorf("index: record source %s: %w", src.Path, err)
		}
	}

	info := &SnapshotInfo{
		ID:       uuid.NewString(),
		TakenAt:  now,
		Entities: len(snap.Entities),
		Edges:    snap.EdgeCount(),
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO snapshots (id, taken_at, entities, edges) VALUES (?, ?, ?, ?)`,
		info.ID, info.TakenAt, info.Entities, info.Edges)
	if err != nil {
		return nil, fmt.Errorf("index: record snapshot: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("index: commit snapshot: %w", err)
	}
	return info, nil
}

// LoadSnapshot reads the persisted graph in ID order. An empty database
// yields an empty snapshot.
func (db *DB) LoadSnapshot(ctx context.Context) (*graphservice.Snapshot, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, url, created_at FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("index: load entities: %w", err)
	}
	defer rows.Close()

	snap := &graphservice.Snapshot{}
	pos := make(map[int]int)
	for rows.Next() {
		var (
			e       graphservice.EntityView
			created string
		)
		if err := rows.Scan(&e.ID, &e.URL, &created); err != nil {
			return nil, fmt.Errorf("index: scan entity: %w", err)
		}
		if e.CreatedAt, err = collection.ParseDate(created); err != nil {
			return nil, fmt.Errorf("index: entity %d: %w", e.ID, err)
		}
		e.UpdatedAt = []collection.Date{}
		e.Names = []string{}
		e.Labels = []string{}
		e.Links = []int{}
		pos[e.ID] = len(snap.Entities)
		snap.Entities = append(snap.Entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("index: load entities: %w", err)
	}

	err = db.eachPair(ctx, `SELECT entity_id, date FROM entity_dates ORDER BY entity_id, date`, func(id int, v string) error {
		d, err := collection.ParseDate(v)
		if err != nil {
			return err
		}
		e := &snap.Entities[pos[id]]
		e.UpdatedAt = append(e.UpdatedAt, d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = db.eachPair(ctx, `SELECT entity_id, name FROM entity_names ORDER BY entity_id, name`, func(id int, v string) error {
		e := &snap.Entities[pos[id]]
		e.Names = append(e.Names, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = db.eachPair(ctx, `SELECT entity_id, label FROM entity_labels ORDER BY entity_id, label`, func(id int, v string) error {
		e := &snap.Entities[pos[id]]
		e.Labels = append(e.Labels, v)
		return nil
	})
	if err != nil {
		return nil, err
	}

	edgeRows, err := db.conn.QueryContext(ctx, `SELECT source, target FROM edges ORDER BY source, position`)
	if err != nil {
		return nil, fmt.Errorf("index: load edges: %w", err)
	}
	defer edgeRows.Close()
	for edgeRows.Next() {
		var source, target int
		if err := edgeRows.Scan(&source, &target); err != nil {
			return nil, fmt.Errorf("index: scan edge: %w", err)
		}
		e := &snap.Entities[pos[source]]
		e.Links = append(e.Links, target)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, fmt.Errorf("index: load edges: %w", err)
	}
	return snap, nil
}

func (db *DB) eachPair(ctx context.Context, query string, fn func(id int, v string) error) error {
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("index: query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int
			v  string
		)
		if err := rows.Scan(&id, &v); err != nil {
			return fmt.Errorf("index: scan: %w", err)
		}
		if err := fn(id, v); err != nil {
			return fmt.Errorf("index: entity %d: %w", id, err)
		}
	}
	return rows.Err()
}

// LatestSnapshot returns the most recently recorded snapshot, or
// apperr.ErrNotFound when none has been saved. Rows are ordered by insertion
// since taken_at is stored as text.
func (db *DB) LatestSnapshot(ctx context.Context) (*SnapshotInfo, error) {
	var info SnapshotInfo
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, taken_at, entities, edges FROM snapshots ORDER BY rowid DESC LIMIT 1`,
	).Scan(&info.ID, &info.TakenAt, &info.Entities, &info.Edges)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: latest snapshot: %w", apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: latest snapshot: %w", err)
	}
	return &info, nil
}

// AllChecksums returns path -> checksum for every ingested source.
func (db *DB) AllChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// DeleteSource forgets a source file. Entities it contributed stay in the
// graph.
func (db *DB) DeleteSource(ctx context.Context, path string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete source: %w", err)
	}
	return nil
}
