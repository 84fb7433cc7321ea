package foodlog

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/mealmood/internal/model"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	err := v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	if err != nil {
		panic(fmt.Sprintf("register finite validation: %v", err))
	}
	return v
}

type totalsInput struct {
	Totals model.MacroTotals `json:"totals"`
}

type itemsInput struct {
	Items []model.FoodItem `json:"items" validate:"dive"`
}

// ValidateTotals rejects non-finite or negative totals. Values are never clamped.
func ValidateTotals(t model.MacroTotals) error {
	return validationError(validate.Struct(totalsInput{Totals: t}))
}

// ValidateItems requires a non-blank name and finite, non-negative numbers on
// every item.
func ValidateItems(items []model.FoodItem) error {
	for i, it := range items {
		if strings.TrimSpace(it.Name) == "" {
			return model.Invalid(fmt.Sprintf("items[%d].name", i), "is required")
		}
	}
	return validationError(validate.Struct(itemsInput{Items: items}))
}

// ValidateText requires text that is not blank.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return model.Invalid("raw_text", "must not be empty")
	}
	return nil
}

// validationError turns the first validator failure into a model.ValidationError.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return fmt.Errorf("validate input: %w", err)
	}
	fe := fieldErrs[0]
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	switch fe.Tag() {
	case "required":
		return model.Invalid(field, "is required")
	case "gte":
		return model.Invalid(field, "must not be negative")
	case "finite":
		return model.Invalid(field, "must be a finite number")
	default:
		return model.Invalid(field, "is invalid")
	}
}
