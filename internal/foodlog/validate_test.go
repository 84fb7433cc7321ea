package foodlog

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mealmood/internal/model"
)

func TestNewValidatorRegistersFinite(t *testing.T) {
	require.NotPanics(t, func() { newValidator() })

	v := newValidator()
	type sample struct {
		N float64 `validate:"finite"`
	}
	require.NoError(t, v.Struct(sample{N: 1.5}))
	require.Error(t, v.Struct(sample{N: math.NaN()}))
	require.Error(t, v.Struct(sample{N: math.Inf(-1)}))
}

func TestValidateTotals(t *testing.T) {
	require.NoError(t, ValidateTotals(model.MacroTotals{Calories: 100}))

	err := ValidateTotals(model.MacroTotals{Calories: math.Inf(1)})
	require.ErrorIs(t, err, model.ErrValidation)

	err = ValidateTotals(model.MacroTotals{Fat: -1})
	require.ErrorIs(t, err, model.ErrValidation)
}
