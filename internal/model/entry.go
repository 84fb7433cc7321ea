package model

import "time"

// State is the lifecycle state of an entry. It doubles as the per-entry
// mutual-exclusion token: only an idle entry accepts a mutation.
type State string

const (
	StateIdle        State = "idle"
	StateReanalyzing State = "reanalyzing"
)

// TotalsSource records which operation last wrote an entry's totals.
type TotalsSource string

const (
	TotalsFromAI     TotalsSource = "ai"
	TotalsFromManual TotalsSource = "manual"
	TotalsFromItems  TotalsSource = "items"
)

type Confidence string

const (
	HighConfidence   Confidence = "high"
	MediumConfidence Confidence = "medium"
	LowConfidence    Confidence = "low"
)

// Valid reports whether c is one of the known confidence levels.
func (c Confidence) Valid() bool {
	switch c {
	case HighConfidence, MediumConfidence, LowConfidence:
		return true
	}
	return false
}

// FoodItem is one line of an entry. Its identity is its position. The
// "finite" validation tag is registered by the foodlog validator.
type FoodItem struct {
	Name     string  `json:"name" validate:"required"`
	Quantity string  `json:"quantity"`
	Calories float64 `json:"calories" validate:"finite,gte=0"`
	Protein  float64 `json:"protein" validate:"finite,gte=0"`
	Carbs    float64 `json:"carbs" validate:"finite,gte=0"`
	Fat      float64 `json:"fat" validate:"finite,gte=0"`
}

type MacroTotals struct {
	Calories float64 `json:"calories" validate:"finite,gte=0"`
	Protein  float64 `json:"protein" validate:"finite,gte=0"`
	Carbs    float64 `json:"carbs" validate:"finite,gte=0"`
	Fat      float64 `json:"fat" validate:"finite,gte=0"`
}

type Entry struct {
	ID             string       `json:"id"`
	Owner          int64        `json:"owner"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	RawText        string       `json:"raw_text"`
	ImageRef       string       `json:"image_ref,omitempty"`
	MoodAnalysis   string       `json:"mood_analysis"`
	Confidence     Confidence   `json:"confidence"`
	Totals         MacroTotals  `json:"totals"`
	TotalsSource   TotalsSource `json:"totals_source"`
	Items          []FoodItem   `json:"items"`
	State          State        `json:"state"`
	StateChangedAt time.Time    `json:"state_changed_at"`
	Version        int64        `json:"version"`
}

// Clone returns a deep copy of e. Items is always non-nil in the copy.
func (e *Entry) Clone() *Entry {
	c := *e
	c.Items = CloneItems(e.Items)
	return &c
}

// CloneItems copies items, turning nil into an empty slice.
func CloneItems(items []FoodItem) []FoodItem {
	out := make([]FoodItem, len(items))
	copy(out, items)
	return out
}
