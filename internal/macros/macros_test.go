package macros

import (
	"math/rand"
	"testing"

	"github.com/dukerupert/mealmood/internal/model"
)

func TestAggregateEmpty(t *testing.T) {
	got := Aggregate(nil)
	if got != (model.MacroTotals{}) {
		t.Errorf("Aggregate(nil) = %+v, want zero totals", got)
	}
	got = Aggregate([]model.FoodItem{})
	if got != (model.MacroTotals{}) {
		t.Errorf("Aggregate([]) = %+v, want zero totals", got)
	}
}

func TestAggregateBreakfast(t *testing.T) {
	items := []model.FoodItem{
		{Name: "oatmeal", Quantity: "1 cup cooked", Calories: 150, Protein: 5, Carbs: 27, Fat: 3},
		{Name: "blueberries", Quantity: "1/2 cup", Calories: 40, Protein: 0.5, Carbs: 10, Fat: 0.2},
		{Name: "coffee", Quantity: "1 cup", Calories: 5, Protein: 0.3, Carbs: 0, Fat: 0},
		{Name: "milk", Quantity: "2 tbsp", Calories: 20, Protein: 1, Carbs: 1.5, Fat: 1},
	}

	got := Aggregate(items)
	want := model.MacroTotals{Calories: 215, Protein: 6.8, Carbs: 38.5, Fat: 4.2}
	if !Equal(got, want, Tolerance) {
		t.Errorf("Aggregate = %+v, want %+v", got, want)
	}
	if got.Calories != 215 {
		t.Errorf("calories = %v, want 215", got.Calories)
	}
}

func TestAggregateMatchesFieldSums(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for round := 0; round < 200; round++ {
		n := rng.Intn(20)
		items := make([]model.FoodItem, n)
		var want model.MacroTotals
		for i := range items {
			items[i] = model.FoodItem{
				Name:     "item",
				Calories: rng.Float64() * 900,
				Protein:  rng.Float64() * 60,
				Carbs:    rng.Float64() * 120,
				Fat:      rng.Float64() * 50,
			}
			want.Calories += items[i].Calories
			want.Protein += items[i].Protein
			want.Carbs += items[i].Carbs
			want.Fat += items[i].Fat
		}
		got := Aggregate(items)
		if !Equal(got, want, Tolerance) {
			t.Fatalf("round %d: Aggregate = %+v, want %+v", round, got, want)
		}
	}
}

func TestAggregateDoesNotMutateInput(t *testing.T) {
	items := []model.FoodItem{{Name: "egg", Calories: 70, Protein: 6, Fat: 5}}
	Aggregate(items)
	if items[0].Calories != 70 || items[0].Name != "egg" {
		t.Errorf("input mutated: %+v", items[0])
	}
}

func TestEqual(t *testing.T) {
	a := model.MacroTotals{Calories: 100, Protein: 10, Carbs: 10, Fat: 10}
	b := a
	b.Fat += 1e-9
	if !Equal(a, b, Tolerance) {
		t.Error("expected totals within tolerance to be equal")
	}
	b.Fat += 1
	if Equal(a, b, Tolerance) {
		t.Error("expected totals outside tolerance to differ")
	}
}

func TestRound(t *testing.T) {
	got := Round(model.MacroTotals{Calories: 215.456, Protein: 6.849, Carbs: 38.5, Fat: 4.21}, 1)
	want := model.MacroTotals{Calories: 215.5, Protein: 6.8, Carbs: 38.5, Fat: 4.2}
	if got != want {
		t.Errorf("Round = %+v, want %+v", got, want)
	}
}
