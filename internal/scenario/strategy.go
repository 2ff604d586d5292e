package scenario

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
)

// DefaultGroup is the fallback group for sectors absent from a strategy's
// sector-to-group table.
const DefaultGroup = "default"

// offsetWithin validates that date falls inside the window and returns its
// period offset from the window start.
func offsetWithin(op string, w fiscal.Window, f fiscal.Freq, date time.Time) (int, error) {
	if !w.Contains(date) {
		return 0, errs.NewOutOfWindowError(op,
			date.Format(fiscal.DateTimeLayout),
			w.Start.Format(fiscal.DateTimeLayout),
			w.Stop.Format(fiscal.DateTimeLayout))
	}
	return fiscal.PeriodsBetween(w.Start, date, f), nil
}

// OffsetSchedule is the simplest strategy: one decline fraction per period
// offset from the window start, identical for every sector. Used by taxes
// whose assumptions are a flat monthly sequence (realty transfer, parking,
// soda, amusement).
type OffsetSchedule struct {
	window   fiscal.Window
	freq     fiscal.Freq
	declines []float64
}

// NewOffsetSchedule builds an OffsetSchedule. The schedule must carry
// exactly one decline per window period.
func NewOffsetSchedule(window fiscal.Window, freq fiscal.Freq, declines []float64) (*OffsetSchedule, error) {
	if want := window.Periods(freq); len(declines) != want {
		return nil, errs.NewSizeMismatchError("scenario.NewOffsetSchedule", "decline schedule", len(declines), want)
	}
	return &OffsetSchedule{window: window, freq: freq, declines: declines}, nil
}

// DeclineFor implements DeclineStrategy.
func (s *OffsetSchedule) DeclineFor(date time.Time, sector string) (float64, error) {
	i, err := offsetWithin("scenario.OffsetSchedule", s.window, s.freq, date)
	if err != nil {
		return 0, err
	}
	return s.declines[i], nil
}

// GroupOffsetSchedule keys per-offset decline schedules by sector group.
// Sectors absent from the group table fall back to DefaultGroup. Used by
// the sales tax, whose heavily impacted sectors decline on a steeper
// schedule than the rest.
type GroupOffsetSchedule struct {
	window    fiscal.Window
	freq      fiscal.Freq
	groups    map[string]string
	schedules map[string][]float64
}

// NewGroupOffsetSchedule builds a GroupOffsetSchedule. Every group schedule
// must carry exactly one decline per window period.
func NewGroupOffsetSchedule(window fiscal.Window, freq fiscal.Freq, groups map[string]string, schedules map[string][]float64) (*GroupOffsetSchedule, error) {
	if len(schedules) == 0 {
		return nil, errs.NewConfigurationError("scenario group schedules", "empty")
	}
	want := window.Periods(freq)
	for group, declines := range schedules {
		if len(declines) != want {
			return nil, errs.NewSizeMismatchError("scenario.NewGroupOffsetSchedule",
				fmt.Sprintf("decline schedule for group %q", group), len(declines), want)
		}
	}
	return &GroupOffsetSchedule{window: window, freq: freq, groups: groups, schedules: schedules}, nil
}

// DeclineFor implements DeclineStrategy.
func (s *GroupOffsetSchedule) DeclineFor(date time.Time, sector string) (float64, error) {
	i, err := offsetWithin("scenario.GroupOffsetSchedule", s.window, s.freq, date)
	if err != nil {
		return 0, err
	}
	group := s.groups[sector]
	if group == "" {
		group = DefaultGroup
	}
	declines, ok := s.schedules[group]
	if !ok {
		return 0, errs.NewConfigurationError("scenario group", group, sortedKeys(s.schedules)...)
	}
	return declines[i], nil
}

// FiscalYearSchedule maps each fiscal year inside the window to a single
// decline fraction, identical for every sector and month of the year.
// Negative fractions model growth. Used by the business income and net
// profits taxes, whose liability accrues by fiscal year.
type FiscalYearSchedule struct {
	window   fiscal.Window
	declines map[int]float64
}

// NewFiscalYearSchedule builds a FiscalYearSchedule.
func NewFiscalYearSchedule(window fiscal.Window, declines map[int]float64) (*FiscalYearSchedule, error) {
	if len(declines) == 0 {
		return nil, errs.NewConfigurationError("scenario fiscal-year declines", "empty")
	}
	return &FiscalYearSchedule{window: window, declines: declines}, nil
}

// DeclineFor implements DeclineStrategy.
func (s *FiscalYearSchedule) DeclineFor(date time.Time, sector string) (float64, error) {
	if !s.window.Contains(date) {
		return 0, errs.NewOutOfWindowError("scenario.FiscalYearSchedule",
			date.Format(fiscal.DateTimeLayout),
			s.window.Start.Format(fiscal.DateTimeLayout),
			s.window.Stop.Format(fiscal.DateTimeLayout))
	}
	fy := fiscal.Year(date)
	decline, ok := s.declines[fy]
	if !ok {
		covered := make([]string, 0, len(s.declines))
		for y := range s.declines {
			covered = append(covered, strconv.Itoa(y))
		}
		sort.Strings(covered)
		return 0, errs.NewConfigurationError("fiscal year for scenario declines", strconv.Itoa(fy), covered...)
	}
	return decline, nil
}

// SectorGroupRecovery models an initial per-sector drop that decays
// exponentially as the economy recovers: decline = drop * (1-rate)^offset.
// The recovery rate comes from the sector's group, with DefaultGroup as the
// fallback. An optional plateau holds the initial drop flat for the first N
// offsets before the recovery begins; the exponent stays the raw offset, so
// recovery resumes as if it had been running through the plateau. Used by
// the wage tax.
type SectorGroupRecovery struct {
	window  fiscal.Window
	freq    fiscal.Freq
	drops   map[string]float64
	groups  map[string]string
	rates   map[string]float64
	plateau int
}

// NewSectorGroupRecovery builds a SectorGroupRecovery.
func NewSectorGroupRecovery(window fiscal.Window, freq fiscal.Freq, drops map[string]float64, groups map[string]string, rates map[string]float64, plateau int) (*SectorGroupRecovery, error) {
	if len(drops) == 0 {
		return nil, errs.NewConfigurationError("scenario sector drops", "empty")
	}
	if len(rates) == 0 {
		return nil, errs.NewConfigurationError("scenario recovery rates", "empty")
	}
	if plateau < 0 {
		return nil, errs.NewConfigurationError("scenario plateau", strconv.Itoa(plateau))
	}
	return &SectorGroupRecovery{
		window:  window,
		freq:    freq,
		drops:   drops,
		groups:  groups,
		rates:   rates,
		plateau: plateau,
	}, nil
}

// DeclineFor implements DeclineStrategy.
func (s *SectorGroupRecovery) DeclineFor(date time.Time, sector string) (float64, error) {
	i, err := offsetWithin("scenario.SectorGroupRecovery", s.window, s.freq, date)
	if err != nil {
		return 0, err
	}
	drop, ok := s.drops[sector]
	if !ok {
		return 0, errs.NewConfigurationError("scenario sector", sector, sortedKeys(s.drops)...)
	}
	group := s.groups[sector]
	if group == "" {
		group = DefaultGroup
	}
	rate, ok := s.rates[group]
	if !ok {
		return 0, errs.NewConfigurationError("scenario recovery group", group, sortedKeys(s.rates)...)
	}
	if i < s.plateau {
		return drop, nil
	}
	return drop * math.Pow(1-rate, float64(i)), nil
}

// SectorLevelSchedule carries absolute revenue levels per sector and
// offset, replacing the baseline instead of scaling it. Used when the
// scenario path comes from an external model rather than a decline curve.
type SectorLevelSchedule struct {
	window fiscal.Window
	freq   fiscal.Freq
	levels map[string][]float64
}

// NewSectorLevelSchedule builds a SectorLevelSchedule. Every sector's level
// sequence must carry exactly one value per window period.
func NewSectorLevelSchedule(window fiscal.Window, freq fiscal.Freq, levels map[string][]float64) (*SectorLevelSchedule, error) {
	if len(levels) == 0 {
		return nil, errs.NewConfigurationError("scenario sector levels", "empty")
	}
	want := window.Periods(freq)
	for sector, seq := range levels {
		if len(seq) != want {
			return nil, errs.NewSizeMismatchError("scenario.NewSectorLevelSchedule",
				fmt.Sprintf("level schedule for sector %q", sector), len(seq), want)
		}
	}
	return &SectorLevelSchedule{window: window, freq: freq, levels: levels}, nil
}

// LevelFor implements Leveler.
func (s *SectorLevelSchedule) LevelFor(date time.Time, sector string) (float64, error) {
	i, err := offsetWithin("scenario.SectorLevelSchedule", s.window, s.freq, date)
	if err != nil {
		return 0, err
	}
	seq, ok := s.levels[sector]
	if !ok {
		return 0, errs.NewConfigurationError("scenario sector", sector, sortedKeys(s.levels)...)
	}
	return seq[i], nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
