package foodlog

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/dukerupert/mealmood/internal/model"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// HistoryFilter narrows ListHistory. The zero value returns the newest
// DefaultHistoryLimit entries.
type HistoryFilter struct {
	// Query matches raw text or any item name, case-insensitively.
	Query string
	// Mood matches entries whose mood analysis contains it.
	Mood string
	// From and To bound CreatedAt as [From, To). Zero means unbounded.
	From  time.Time
	To    time.Time
	Limit int
}

// DateLayout is the calendar-day format accepted for history bounds.
const DateLayout = "2006-01-02"

// DayRange turns inclusive from/to calendar days in loc into the half-open
// [From, To) bounds of a HistoryFilter. Empty strings leave a side open.
func DayRange(from, to string, loc *time.Location) (time.Time, time.Time, error) {
	var start, end time.Time
	if from != "" {
		t, err := time.ParseInLocation(DateLayout, from, loc)
		if err != nil {
			return start, end, model.Invalid("from", "must be a date like 2006-01-02")
		}
		start = t
	}
	if to != "" {
		t, err := time.ParseInLocation(DateLayout, to, loc)
		if err != nil {
			return start, end, model.Invalid("to", "must be a date like 2006-01-02")
		}
		end = t.AddDate(0, 0, 1)
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, model.Invalid("to", "must not be before from")
	}
	return start, end, nil
}

func (f HistoryFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return DefaultHistoryLimit
	case f.Limit > MaxHistoryLimit:
		return MaxHistoryLimit
	default:
		return f.Limit
	}
}

func (f HistoryFilter) matches(e *model.Entry) bool {
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	if mood := strings.ToLower(strings.TrimSpace(f.Mood)); mood != "" {
		if !strings.Contains(strings.ToLower(e.MoodAnalysis), mood) {
			return false
		}
	}
	q := strings.ToLower(strings.TrimSpace(f.Query))
	if q == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.RawText), q) {
		return true
	}
	for _, it := range e.Items {
		if strings.Contains(strings.ToLower(it.Name), q) {
			return true
		}
	}
	return false
}

func (r *Reconciler) filtered(ctx context.Context, owner int64, f HistoryFilter) ([]*model.Entry, error) {
	all, err := r.store.ListByOwner(ctx, owner)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]*model.Entry, 0, len(all))
	for _, e := range all {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Location is the zone used for calendar days.
func (r *Reconciler) Location() *time.Location { return r.loc }

// ListHistory returns the owner's entries, newest first.
func (r *Reconciler) ListHistory(ctx context.Context, owner int64, f HistoryFilter) ([]*model.Entry, error) {
	entries, err := r.filtered(ctx, owner, f)
	if err != nil {
		return nil, err
	}
	if n := f.limit(); len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}

type DaySummary struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Entries  int     `json:"entries"`
}

type Summary struct {
	TotalEntries         int          `json:"total_entries"`
	Days                 []DaySummary `json:"days"`
	AverageDailyCalories float64      `json:"average_daily_calories"`
	MostCommonMood       string       `json:"most_common_mood"`
}

// Summary aggregates the owner's entries matching f per calendar day in the
// reconciler's location. The limit does not apply. Days are newest first.
func (r *Reconciler) Summary(ctx context.Context, owner int64, f HistoryFilter) (*Summary, error) {
	entries, err := r.filtered(ctx, owner, f)
	if err != nil {
		return nil, err
	}

	s := &Summary{TotalEntries: len(entries), Days: []DaySummary{}}
	byDay := make(map[string]*DaySummary)
	moods := make(map[string]int)
	for _, e := range entries {
		key := e.CreatedAt.In(r.loc).Format(DateLayout)
		d, ok := byDay[key]
		if !ok {
			d = &DaySummary{Date: key}
			byDay[key] = d
		}
		d.Calories += e.Totals.Calories
		d.Entries++

		if mood := strings.ToLower(strings.TrimSpace(e.MoodAnalysis)); mood != "" && mood != "unknown" {
			moods[mood]++
		}
	}

	var total float64
	for _, d := range byDay {
		s.Days = append(s.Days, *d)
		total += d.Calories
	}
	sort.Slice(s.Days, func(i, j int) bool { return s.Days[i].Date > s.Days[j].Date })
	if len(s.Days) > 0 {
		s.AverageDailyCalories = total / float64(len(s.Days))
	}

	best := 0
	for mood, n := range moods {
		if n > best || (n == best && mood < s.MostCommonMood) {
			best, s.MostCommonMood = n, mood
		}
	}
	return s, nil
}
