package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

// EntryStore persists entries and their items in SQLite. Every method is
// scoped by owner; another owner's entry is reported as model.ErrNotFound.
type EntryStore struct {
	db *sql.DB
}

func NewEntryStore(db *sql.DB) *EntryStore {
	return &EntryStore{db: db}
}

func scanEntry(scanner interface{ Scan(...any) error }) (*model.Entry, error) {
	var e model.Entry
	var confidence, source, state string
	err := scanner.Scan(
		&e.ID, &e.Owner, &e.RawText, &e.ImageRef, &e.MoodAnalysis, &confidence,
		&e.Totals.Calories, &e.Totals.Protein, &e.Totals.Carbs, &e.Totals.Fat,
		&source, &state, &e.StateChangedAt, &e.Version, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Confidence = model.Confidence(confidence)
	e.TotalsSource = model.TotalsSource(source)
	e.State = model.State(state)
	e.Items = []model.FoodItem{}
	return &e, nil
}

const entryCols = `id, owner_id, raw_text, image_ref, mood_analysis, confidence,
	total_calories, total_protein, total_carbs, total_fat,
	totals_source, state, state_changed_at, version, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertItems(ctx context.Context, tx execer, entryID string, items []model.FoodItem) error {
	for i, it := range items {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO entry_items (entry_id, position, name, quantity, calories, protein, carbs, fat)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entryID, i, it.Name, it.Quantity, it.Calories, it.Protein, it.Carbs, it.Fat,
		)
		if err != nil {
			return fmt.Errorf("insert item %d: %w", i, err)
		}
	}
	return nil
}

func (s *EntryStore) Create(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("create entry: missing id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	version := e.Version
	if version == 0 {
		version = 1
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO entries (`+entryCols+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, owner, e.RawText, e.ImageRef, e.MoodAnalysis, string(e.Confidence),
		e.Totals.Calories, e.Totals.Protein, e.Totals.Carbs, e.Totals.Fat,
		string(e.TotalsSource), string(e.State), e.StateChangedAt.UTC(), version,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entry: %w", err)
	}
	if err := insertItems(ctx, tx, e.ID, e.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Get(ctx, owner, e.ID)
}

func (s *EntryStore) Get(ctx context.Context, owner int64, id string) (*model.Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM entries WHERE id = ? AND owner_id = ?`, id, owner)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	items, err := s.loadItems(ctx, `WHERE entry_id = ?`, id)
	if err != nil {
		return nil, err
	}
	e.Items = append(e.Items, items[id]...)
	return e, nil
}

// loadItems returns items grouped by entry id, each group in position order.
func (s *EntryStore) loadItems(ctx context.Context, where string, args ...any) (map[string][]model.FoodItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, name, quantity, calories, protein, carbs, fat FROM entry_items `+where+` ORDER BY entry_id, position`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]model.FoodItem)
	for rows.Next() {
		var entryID string
		var it model.FoodItem
		if err := rows.Scan(&entryID, &it.Name, &it.Quantity, &it.Calories, &it.Protein, &it.Carbs, &it.Fat); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		out[entryID] = append(out[entryID], it)
	}
	return out, rows.Err()
}

// ListByOwner returns the owner's entries, newest first.
func (s *EntryStore) ListByOwner(ctx context.Context, owner int64) ([]*model.Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryCols+` FROM entries WHERE owner_id = ? ORDER BY created_at DESC, rowid DESC`,
		owner,
	)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	var entries []*model.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list entries: %w", err)
	}
	rows.Close()

	items, err := s.loadItems(ctx,
		`WHERE entry_id IN (SELECT id FROM entries WHERE owner_id = ?)`, owner)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		e.Items = append(e.Items, items[e.ID]...)
	}
	return entries, nil
}

// Put replaces the stored entry when its version still equals e.Version and
// bumps the version. A stale version yields model.ErrConflict.
func (s *EntryStore) Put(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE entries SET raw_text = ?, image_ref = ?, mood_analysis = ?, confidence = ?,
			total_calories = ?, total_protein = ?, total_carbs = ?, total_fat = ?,
			totals_source = ?, state = ?, state_changed_at = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND owner_id = ? AND version = ?`,
		e.RawText, e.ImageRef, e.MoodAnalysis, string(e.Confidence),
		e.Totals.Calories, e.Totals.Protein, e.Totals.Carbs, e.Totals.Fat,
		string(e.TotalsSource), string(e.State), e.StateChangedAt.UTC(), e.UpdatedAt.UTC(),
		e.ID, owner, e.Version,
	)
	if err != nil {
		return nil, fmt.Errorf("update entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM entries WHERE id = ? AND owner_id = ?`, e.ID, owner).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("check entry: %w", err)
		}
		return nil, fmt.Errorf("entry %s version %d is stale: %w", e.ID, e.Version, model.ErrConflict)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_items WHERE entry_id = ?`, e.ID); err != nil {
		return nil, fmt.Errorf("clear items: %w", err)
	}
	if err := insertItems(ctx, tx, e.ID, e.Items); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Get(ctx, owner, e.ID)
}

func (s *EntryStore) Delete(ctx context.Context, owner int64, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entries WHERE id = ? AND owner_id = ?`, id, owner)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// ResetStale returns entries stuck in reanalyzing since before cutoff to
// idle, leaving every other field untouched. It returns the number reset.
func (s *EntryStore) ResetStale(ctx context.Context, cutoff time.Time) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, version, state_changed_at FROM entries WHERE state = ?`, string(model.StateReanalyzing))
	if err != nil {
		return 0, fmt.Errorf("query reanalyzing: %w", err)
	}
	type stale struct {
		id      string
		version int64
	}
	var candidates []stale
	for rows.Next() {
		var c stale
		var changed time.Time
		if err := rows.Scan(&c.id, &c.version, &changed); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan reanalyzing: %w", err)
		}
		if changed.Before(cutoff) {
			candidates = append(candidates, c)
		}
	}
	rows.Close()

	var reset int64
	now := time.Now().UTC()
	for _, c := range candidates {
		res, err := s.db.ExecContext(ctx,
			`UPDATE entries SET state = ?, state_changed_at = ?, version = version + 1
			 WHERE id = ? AND version = ? AND state = ?`,
			string(model.StateIdle), now, c.id, c.version, string(model.StateReanalyzing),
		)
		if err != nil {
			return reset, fmt.Errorf("reset entry %s: %w", c.id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			reset++
		}
	}
	return reset, nil
}
