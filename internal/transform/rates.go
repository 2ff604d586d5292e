// Package transform converts collections between revenue and tax-base units
// and spreads aggregate collections across economic sectors.
package transform

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// RateTable holds the statutory rate per fiscal year for one tax.
type RateTable struct {
	tax   string
	rates map[int]float64
}

// NewRateTable builds a rate table for a tax. The rates map is keyed by
// fiscal year and is copied.
func NewRateTable(tax string, rates map[int]float64) *RateTable {
	rt := &RateTable{tax: tax, rates: make(map[int]float64, len(rates))}
	for fy, r := range rates {
		rt.rates[fy] = r
	}
	return rt
}

// Tax returns the tax the table belongs to.
func (rt *RateTable) Tax() string { return rt.tax }

// Years returns the fiscal years the table covers, sorted.
func (rt *RateTable) Years() []int {
	years := make([]int, 0, len(rt.rates))
	for fy := range rt.rates {
		years = append(years, fy)
	}
	sort.Ints(years)
	return years
}

// Rate returns the statutory rate for a fiscal year. A year outside the
// table's coverage is a configuration error naming the coverage.
func (rt *RateTable) Rate(fiscalYear int) (float64, error) {
	r, ok := rt.rates[fiscalYear]
	if !ok {
		years := rt.Years()
		allowed := make([]string, len(years))
		for i, fy := range years {
			allowed[i] = strconv.Itoa(fy)
		}
		return 0, errs.NewConfigurationError("fiscal year for "+rt.tax+" rates",
			strconv.Itoa(fiscalYear), allowed...)
	}
	return r, nil
}

// Converter translates between revenue and tax-base units using a tax's
// statutory rates. Trend fitting happens in tax-base units so rate changes
// do not masquerade as trend shifts. A nil rate table makes both directions
// the identity, for taxes whose rate never changed over the data.
type Converter struct {
	rates  *RateTable
	logger *zap.Logger
}

// NewConverter creates a Converter. rates may be nil.
func NewConverter(rates *RateTable, logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Converter{rates: rates, logger: logger}
}

// ToBase converts a revenue series to tax-base units by dividing each value
// by the rate in effect for its fiscal year. One rate broadcasts across all
// sectors of a date.
func (c *Converter) ToBase(s *series.Series) (*series.Series, error) {
	return c.scaleSeries(s, "transform.ToBase", false)
}

// ToRevenue converts a tax-base series back to revenue units by multiplying
// each value by the rate in effect for its fiscal year.
func (c *Converter) ToRevenue(s *series.Series) (*series.Series, error) {
	return c.scaleSeries(s, "transform.ToRevenue", true)
}

// TableToRevenue converts a fitted tax-base table to revenue units. Every
// band is rescaled so the trend and seasonal decomposition stay in the same
// units as the point estimate.
func (c *Converter) TableToRevenue(t *forecast.Table) (*forecast.Table, error) {
	if c.rates == nil {
		return t.Clone(), nil
	}
	var out *forecast.Table
	if t.HasSectors() {
		out = forecast.NewWithSectors(t.Sectors())
	} else {
		out = forecast.New()
	}
	sectors := t.Sectors()
	if !t.HasSectors() {
		sectors = []string{series.NoSector}
	}
	for _, d := range t.Dates() {
		rate, err := c.rateFor(d)
		if err != nil {
			return nil, err
		}
		for _, sector := range sectors {
			b, ok := t.At(d, sector)
			if !ok {
				continue
			}
			out.Set(d, sector, b.Scale(rate))
		}
	}
	c.logger.Debug("converted fitted table to revenue units",
		zap.String("op", "transform.TableToRevenue"),
		zap.String("tax", c.rates.Tax()),
		zap.Int("periods", out.Len()),
	)
	return out, nil
}

func (c *Converter) scaleSeries(s *series.Series, op string, multiply bool) (*series.Series, error) {
	if c.rates == nil {
		return s.Clone(), nil
	}
	var out *series.Series
	if s.HasSectors() {
		out = series.NewWithSectors(s.Sectors())
	} else {
		out = series.New()
	}
	sectors := s.Sectors()
	if !s.HasSectors() {
		sectors = []string{series.NoSector}
	}
	for _, d := range s.Dates() {
		rate, err := c.rateFor(d)
		if err != nil {
			return nil, err
		}
		for _, sector := range sectors {
			v, ok := s.ValueAt(d, sector)
			if !ok {
				continue
			}
			if multiply {
				out.Set(d, sector, v*rate)
			} else {
				out.Set(d, sector, v/rate)
			}
		}
	}
	c.logger.Debug("rescaled by statutory rates",
		zap.String("op", op),
		zap.String("tax", c.rates.Tax()),
		zap.Int("periods", out.Len()),
	)
	return out, nil
}

func (c *Converter) rateFor(d time.Time) (float64, error) {
	rate, err := c.rates.Rate(fiscal.Year(d))
	if err != nil {
		return 0, err
	}
	if rate <= 0 {
		return 0, fmt.Errorf("%s rate for fiscal year %d is %v, rates must be positive",
			c.rates.Tax(), fiscal.Year(d), rate)
	}
	return rate, nil
}
