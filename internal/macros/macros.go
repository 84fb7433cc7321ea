// Package macros derives aggregate macro-nutrient totals from food items.
package macros

import (
	"math"

	"github.com/dukerupert/mealmood/internal/model"
)

// Tolerance is the per-field slack allowed when comparing item-derived totals.
const Tolerance = 1e-6

// Aggregate sums calories, protein, carbs and fat across items. An empty
// slice yields zero totals. Items must already be normalized; Aggregate
// neither validates nor clamps.
func Aggregate(items []model.FoodItem) model.MacroTotals {
	var t model.MacroTotals
	for _, it := range items {
		t.Calories += it.Calories
		t.Protein += it.Protein
		t.Carbs += it.Carbs
		t.Fat += it.Fat
	}
	return t
}

// Equal reports whether every field of a and b differs by at most tol.
func Equal(a, b model.MacroTotals, tol float64) bool {
	return math.Abs(a.Calories-b.Calories) <= tol &&
		math.Abs(a.Protein-b.Protein) <= tol &&
		math.Abs(a.Carbs-b.Carbs) <= tol &&
		math.Abs(a.Fat-b.Fat) <= tol
}

// Round returns t with each field rounded to the given number of decimals.
// Used for display summaries only, never for stored totals.
func Round(t model.MacroTotals, decimals int) model.MacroTotals {
	p := math.Pow(10, float64(decimals))
	r := func(v float64) float64 { return math.Round(v*p) / p }
	return model.MacroTotals{
		Calories: r(t.Calories),
		Protein:  r(t.Protein),
		Carbs:    r(t.Carbs),
		Fat:      r(t.Fat),
	}
}
