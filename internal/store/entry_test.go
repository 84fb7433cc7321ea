package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/mealmood/internal/database"
	"github.com/dukerupert/mealmood/internal/model"
)

// entryStore is the contract both the SQLite and the in-memory stores satisfy.
type entryStore interface {
	Create(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error)
	Get(ctx context.Context, owner int64, id string) (*model.Entry, error)
	ListByOwner(ctx context.Context, owner int64) ([]*model.Entry, error)
	Put(ctx context.Context, owner int64, e *model.Entry) (*model.Entry, error)
	Delete(ctx context.Context, owner int64, id string) error
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// setupEntryStores returns both implementations plus two owner ids that exist
// in each of them.
func setupEntryStores(t *testing.T) map[string]entryStore {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	us := NewUserStore(db)
	ctx := context.Background()
	for _, email := range []string{"one@example.com", "two@example.com"} {
		if _, err := us.Create(ctx, email, "", "hash"); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}

	return map[string]entryStore{
		"sqlite": NewEntryStore(db),
		"memory": NewMemoryEntryStore(),
	}
}

const (
	ownerOne int64 = 1
	ownerTwo int64 = 2
)

func newTestEntry(id string, created time.Time) *model.Entry {
	return &model.Entry{
		ID:           id,
		CreatedAt:    created,
		UpdatedAt:    created,
		RawText:      "Oatmeal with blueberries and a coffee",
		MoodAnalysis: "calm",
		Confidence:   model.HighConfidence,
		Totals:       model.MacroTotals{Calories: 285, Protein: 8, Carbs: 54, Fat: 4},
		TotalsSource: model.TotalsFromAI,
		Items: []model.FoodItem{
			{Name: "oatmeal", Quantity: "1 cup", Calories: 150, Protein: 5, Carbs: 27, Fat: 3},
			{Name: "blueberries", Quantity: "1/2 cup", Calories: 40, Protein: 0.5, Carbs: 10, Fat: 0.2},
		},
		State:          model.StateIdle,
		StateChangedAt: created,
	}
}

func TestEntryCreateAndGet(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC().Truncate(time.Millisecond)

			created, err := s.Create(ctx, ownerOne, newTestEntry("e1", now))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if created.Version != 1 {
				t.Errorf("version = %d, want 1", created.Version)
			}
			if created.Owner != ownerOne {
				t.Errorf("owner = %d, want %d", created.Owner, ownerOne)
			}

			got, err := s.Get(ctx, ownerOne, "e1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Totals.Calories != 285 {
				t.Errorf("calories = %v, want 285", got.Totals.Calories)
			}
			if len(got.Items) != 2 || got.Items[0].Name != "oatmeal" || got.Items[1].Name != "blueberries" {
				t.Errorf("items = %+v, want oatmeal then blueberries", got.Items)
			}
			if !got.CreatedAt.Equal(now) {
				t.Errorf("created_at = %v, want %v", got.CreatedAt, now)
			}
			if got.State != model.StateIdle {
				t.Errorf("state = %q, want %q", got.State, model.StateIdle)
			}
		})
	}
}

func TestEntryEmptyItemsNeverNil(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			e := newTestEntry("e1", time.Now())
			e.Items = nil

			if _, err := s.Create(ctx, ownerOne, e); err != nil {
				t.Fatalf("create: %v", err)
			}
			got, err := s.Get(ctx, ownerOne, "e1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.Items == nil {
				t.Error("items is nil, want empty slice")
			}
			list, err := s.ListByOwner(ctx, ownerOne)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 1 || list[0].Items == nil {
				t.Errorf("listed items = %#v, want empty slice", list)
			}
		})
	}
}

func TestEntryOwnerScoping(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, ownerOne, newTestEntry("e1", time.Now()))
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			if _, err := s.Get(ctx, ownerTwo, "e1"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("foreign get err = %v, want ErrNotFound", err)
			}
			foreign := created.Clone()
			foreign.RawText = "hijacked"
			if _, err := s.Put(ctx, ownerTwo, foreign); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("foreign put err = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, ownerTwo, "e1"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("foreign delete err = %v, want ErrNotFound", err)
			}
			list, err := s.ListByOwner(ctx, ownerTwo)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(list) != 0 {
				t.Errorf("foreign list len = %d, want 0", len(list))
			}

			got, _ := s.Get(ctx, ownerOne, "e1")
			if got.RawText != created.RawText {
				t.Errorf("raw text = %q, want unchanged %q", got.RawText, created.RawText)
			}
		})
	}
}

func TestEntryListNewestFirst(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
			for i, id := range []string{"breakfast", "lunch", "dinner"} {
				if _, err := s.Create(ctx, ownerOne, newTestEntry(id, base.Add(time.Duration(i)*5*time.Hour))); err != nil {
					t.Fatalf("create %s: %v", id, err)
				}
			}
			if _, err := s.Create(ctx, ownerTwo, newTestEntry("other", base)); err != nil {
				t.Fatalf("create other: %v", err)
			}

			list, err := s.ListByOwner(ctx, ownerOne)
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			want := []string{"dinner", "lunch", "breakfast"}
			if len(list) != len(want) {
				t.Fatalf("len = %d, want %d", len(list), len(want))
			}
			for i, e := range list {
				if e.ID != want[i] {
					t.Errorf("list[%d] = %q, want %q", i, e.ID, want[i])
				}
				if len(e.Items) != 2 {
					t.Errorf("list[%d] items = %d, want 2", i, len(e.Items))
				}
			}
		})
	}
}

func TestEntryPutReplacesAndBumpsVersion(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, ownerOne, newTestEntry("e1", time.Now()))
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			next := created.Clone()
			next.Items = []model.FoodItem{{Name: "coffee", Quantity: "1 cup", Calories: 5}}
			next.Totals = model.MacroTotals{Calories: 999}
			next.TotalsSource = model.TotalsFromManual

			updated, err := s.Put(ctx, ownerOne, next)
			if err != nil {
				t.Fatalf("put: %v", err)
			}
			if updated.Version != created.Version+1 {
				t.Errorf("version = %d, want %d", updated.Version, created.Version+1)
			}
			if len(updated.Items) != 1 || updated.Items[0].Name != "coffee" {
				t.Errorf("items = %+v, want single coffee", updated.Items)
			}
			if updated.Totals.Calories != 999 || updated.TotalsSource != model.TotalsFromManual {
				t.Errorf("totals = %+v (%s), want 999 manual", updated.Totals, updated.TotalsSource)
			}
			if !updated.CreatedAt.Equal(created.CreatedAt) {
				t.Errorf("created_at changed: %v -> %v", created.CreatedAt, updated.CreatedAt)
			}
		})
	}
}

func TestEntryPutStaleVersionConflicts(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, ownerOne, newTestEntry("e1", time.Now()))
			if err != nil {
				t.Fatalf("create: %v", err)
			}

			first := created.Clone()
			first.RawText = "first writer"
			if _, err := s.Put(ctx, ownerOne, first); err != nil {
				t.Fatalf("first put: %v", err)
			}

			second := created.Clone()
			second.RawText = "second writer"
			if _, err := s.Put(ctx, ownerOne, second); !errors.Is(err, model.ErrConflict) {
				t.Fatalf("stale put err = %v, want ErrConflict", err)
			}

			got, _ := s.Get(ctx, ownerOne, "e1")
			if got.RawText != "first writer" {
				t.Errorf("raw text = %q, want %q", got.RawText, "first writer")
			}
		})
	}
}

func TestEntryReturnedSnapshotsAreIsolated(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, ownerOne, newTestEntry("e1", time.Now()))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			created.Items[0].Name = "mutated"

			got, _ := s.Get(ctx, ownerOne, "e1")
			if got.Items[0].Name != "oatmeal" {
				t.Errorf("item name = %q, want %q", got.Items[0].Name, "oatmeal")
			}
		})
	}
}

func TestEntryDelete(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := s.Create(ctx, ownerOne, newTestEntry("e1", time.Now())); err != nil {
				t.Fatalf("create: %v", err)
			}
			if err := s.Delete(ctx, ownerOne, "e1"); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Get(ctx, ownerOne, "e1"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("get after delete err = %v, want ErrNotFound", err)
			}
			if err := s.Delete(ctx, ownerOne, "e1"); !errors.Is(err, model.ErrNotFound) {
				t.Errorf("second delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestEntryResetStale(t *testing.T) {
	for name, s := range setupEntryStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			stuck := newTestEntry("stuck", now)
			stuck.State = model.StateReanalyzing
			stuck.StateChangedAt = now.Add(-2 * time.Hour)
			fresh := newTestEntry("fresh", now)
			fresh.State = model.StateReanalyzing
			fresh.StateChangedAt = now
			for _, e := range []*model.Entry{stuck, fresh, newTestEntry("idle", now)} {
				if _, err := s.Create(ctx, ownerOne, e); err != nil {
					t.Fatalf("create %s: %v", e.ID, err)
				}
			}

			n, err := s.ResetStale(ctx, now.Add(-time.Hour))
			if err != nil {
				t.Fatalf("reset stale: %v", err)
			}
			if n != 1 {
				t.Errorf("reset = %d, want 1", n)
			}

			got, _ := s.Get(ctx, ownerOne, "stuck")
			if got.State != model.StateIdle {
				t.Errorf("stuck state = %q, want idle", got.State)
			}
			if got.Totals.Calories != 285 || len(got.Items) != 2 {
				t.Errorf("stuck facets changed: %+v", got)
			}
			got, _ = s.Get(ctx, ownerOne, "fresh")
			if got.State != model.StateReanalyzing {
				t.Errorf("fresh state = %q, want reanalyzing", got.State)
			}
		})
	}
}
