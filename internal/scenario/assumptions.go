package scenario

import (
	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// Strategy kinds accepted in configuration.
const (
	KindOffsets        = "offsets"
	KindGroupOffsets   = "group-offsets"
	KindFiscalYears    = "fiscal-years"
	KindSectorRecovery = "sector-recovery"
	KindSectorLevels   = "sector-levels"
)

// Assumptions is the declarative form of one scenario's strategy for one
// tax, as it appears in configuration. Kind selects the variant; only the
// fields that variant reads need to be set. The assumption data is policy,
// not code: revising a decline table means editing configuration, never the
// pipeline.
type Assumptions struct {
	Kind string

	// KindOffsets
	Declines []float64

	// KindGroupOffsets
	GroupDeclines map[string][]float64

	// KindFiscalYears
	FiscalYearDeclines map[int]float64

	// KindSectorRecovery
	Drops         map[string]float64
	RecoveryRates map[string]float64
	Plateau       int

	// KindSectorLevels
	Levels map[string][]float64

	// Groups maps sectors to group labels for the group-keyed kinds;
	// unmapped sectors fall back to DefaultGroup.
	Groups map[string]string
}

// Strategy is a built scenario strategy. Exactly one field is set,
// according to the assumption kind.
type Strategy struct {
	Decline DeclineStrategy
	Levels  Leveler
}

// Build constructs the strategy the assumptions describe, validated
// against the scenario window.
func (a Assumptions) Build(window fiscal.Window, freq fiscal.Freq) (Strategy, error) {
	switch a.Kind {
	case KindOffsets:
		s, err := NewOffsetSchedule(window, freq, a.Declines)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Decline: s}, nil
	case KindGroupOffsets:
		s, err := NewGroupOffsetSchedule(window, freq, a.Groups, a.GroupDeclines)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Decline: s}, nil
	case KindFiscalYears:
		s, err := NewFiscalYearSchedule(window, a.FiscalYearDeclines)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Decline: s}, nil
	case KindSectorRecovery:
		s, err := NewSectorGroupRecovery(window, freq, a.Drops, a.Groups, a.RecoveryRates, a.Plateau)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Decline: s}, nil
	case KindSectorLevels:
		s, err := NewSectorLevelSchedule(window, freq, a.Levels)
		if err != nil {
			return Strategy{}, err
		}
		return Strategy{Levels: s}, nil
	}
	return Strategy{}, errs.NewConfigurationError("scenario strategy kind", a.Kind,
		KindOffsets, KindGroupOffsets, KindFiscalYears, KindSectorRecovery, KindSectorLevels)
}

// Run applies a built strategy through whichever capability it carries.
func (e *Engine) Run(baseline *forecast.Table, window fiscal.Window, s Strategy) (*forecast.Table, error) {
	if s.Levels != nil {
		return e.ApplyLevels(baseline, window, s.Levels)
	}
	if s.Decline == nil {
		return nil, errs.NewConfigurationError("scenario strategy", "unbuilt")
	}
	return e.Apply(baseline, window, s.Decline)
}
