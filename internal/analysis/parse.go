package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dukerupert/mealmood/internal/macros"
	"github.com/dukerupert/mealmood/internal/model"
)

// number accepts JSON numbers and numeric strings ("150", "12.5g").
type number struct {
	value float64
	set   bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimRight(strings.TrimSpace(s), "gGkcalKCAL "))
		if s == "" {
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("parse number %q: %w", s, err)
		}
		n.value, n.set = v, true
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	n.value, n.set = v, true
	return nil
}

// clean normalizes missing, negative and non-finite values to 0.
func (n number) clean() float64 {
	if !n.set || math.IsNaN(n.value) || math.IsInf(n.value, 0) || n.value < 0 {
		return 0
	}
	return n.value
}

type wireItem struct {
	Name     string `json:"name"`
	Quantity string `json:"quantity"`
	Calories number `json:"calories"`
	Protein  number `json:"protein"`
	Carbs    number `json:"carbs"`
	Fat      number `json:"fat"`
}

type wireResult struct {
	Items         []wireItem `json:"items"`
	TotalCalories number     `json:"total_calories"`
	TotalProtein  number     `json:"total_protein"`
	TotalCarbs    number     `json:"total_carbs"`
	TotalFat      number     `json:"total_fat"`
	MoodAnalysis  string     `json:"mood_analysis"`
	Confidence    string     `json:"confidence"`
	Error         string     `json:"error"`
}

// ParseResult extracts the JSON object from a model reply and converts it to
// a Result. Surrounding prose or code fences are ignored.
func ParseResult(content string) (*Result, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", ErrUnparseable)
	}

	var w wireResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if w.Error != "" {
		return nil, fmt.Errorf("%w: model reported %q", ErrUnparseable, w.Error)
	}

	items := make([]model.FoodItem, 0, len(w.Items))
	for _, wi := range w.Items {
		name := strings.TrimSpace(wi.Name)
		if name == "" {
			name = UnidentifiedItemName
		}
		items = append(items, model.FoodItem{
			Name:     name,
			Quantity: strings.TrimSpace(wi.Quantity),
			Calories: wi.Calories.clean(),
			Protein:  wi.Protein.clean(),
			Carbs:    wi.Carbs.clean(),
			Fat:      wi.Fat.clean(),
		})
	}

	var totals model.MacroTotals
	if w.TotalCalories.set || w.TotalProtein.set || w.TotalCarbs.set || w.TotalFat.set {
		totals = model.MacroTotals{
			Calories: w.TotalCalories.clean(),
			Protein:  w.TotalProtein.clean(),
			Carbs:    w.TotalCarbs.clean(),
			Fat:      w.TotalFat.clean(),
		}
	} else {
		totals = macros.Aggregate(items)
	}

	res := &Result{
		MoodAnalysis: strings.TrimSpace(w.MoodAnalysis),
		Totals:       totals,
		Items:        items,
		Confidence:   model.Confidence(strings.ToLower(strings.TrimSpace(w.Confidence))),
	}
	if res.MoodAnalysis == "" {
		res.MoodAnalysis = "unknown"
	}
	if !res.Confidence.Valid() {
		res.Confidence = model.MediumConfidence
	}
	if res.Unidentified() {
		res.Confidence = model.LowConfidence
	}
	return res, nil
}
