// Package seasonal fits a structural time series model with a
// piecewise-linear trend and a yearly Fourier cycle, and projects it forward
// with residual-based uncertainty bands. Histories are contiguous, equally
// spaced periods; predictions extend the same grid.
package seasonal

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/civicbudget/tax-forecast/pkg/constants"
	"github.com/civicbudget/tax-forecast/pkg/errs"
)

// Mode selects how the seasonal cycle combines with the trend.
type Mode string

const (
	// Additive models the observation as trend plus a seasonal offset.
	Additive Mode = "additive"

	// Multiplicative models the observation as trend times a seasonal
	// factor. It requires a strictly positive history and falls back to
	// additive otherwise.
	Multiplicative Mode = "multiplicative"
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case Additive:
		return Additive, nil
	case Multiplicative:
		return Multiplicative, nil
	}
	return "", errs.NewConfigurationError("seasonalityMode", s, string(Additive), string(Multiplicative))
}

// Options control the shape of the fitted model. Zero values fall back to
// the package defaults.
type Options struct {
	Mode               Mode
	FourierOrder       int
	MaxChangepoints    int
	ChangepointPenalty float64
	IntervalWidth      float64
}

// DefaultOptions returns the fitting options used when a tax does not
// override them.
func DefaultOptions() Options {
	return Options{
		Mode:               Additive,
		FourierOrder:       constants.DefaultFourierOrder,
		MaxChangepoints:    constants.DefaultChangepointCap,
		ChangepointPenalty: constants.DefaultChangepointPenalty,
		IntervalWidth:      constants.DefaultIntervalWidth,
	}
}

// Normalized returns the options with zero values replaced by the package
// defaults, the form cache keys are built from.
func (o Options) Normalized() Options {
	return o.withDefaults()
}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = Additive
	}
	if o.FourierOrder == 0 {
		o.FourierOrder = constants.DefaultFourierOrder
	}
	if o.MaxChangepoints == 0 {
		o.MaxChangepoints = constants.DefaultChangepointCap
	}
	if o.ChangepointPenalty == 0 {
		o.ChangepointPenalty = constants.DefaultChangepointPenalty
	}
	if o.IntervalWidth == 0 {
		o.IntervalWidth = constants.DefaultIntervalWidth
	}
	return o
}

func (o Options) validate() error {
	if o.Mode != Additive && o.Mode != Multiplicative {
		return errs.NewConfigurationError("seasonalityMode", string(o.Mode), string(Additive), string(Multiplicative))
	}
	if o.FourierOrder < 1 {
		return fmt.Errorf("fourier order must be at least 1, got %d", o.FourierOrder)
	}
	if o.MaxChangepoints < 0 {
		return fmt.Errorf("max changepoints must not be negative, got %d", o.MaxChangepoints)
	}
	if o.ChangepointPenalty < 0 {
		return fmt.Errorf("changepoint penalty must not be negative, got %v", o.ChangepointPenalty)
	}
	if o.IntervalWidth <= 0 || o.IntervalWidth >= 1 {
		return fmt.Errorf("interval width must be in (0, 1), got %v", o.IntervalWidth)
	}
	return nil
}

// Model is a fitted seasonal trend model.
type Model struct {
	periodsPerYear int
	n              int
	logScale       bool
	mean           float64
	scale          float64
	order          int
	changepoints   []float64
	coef           []float64
	residStd       float64
	band           float64
}

// Components holds the decomposed prediction for consecutive periods
// starting at the first fitted period.
type Components struct {
	Total    []float64
	Lower    []float64
	Upper    []float64
	Trend    []float64
	Seasonal []float64
}

// Fit estimates the model over a contiguous history of equally spaced
// periods. periodsPerYear is the length of the seasonal cycle (12 for
// monthly data, 4 for quarterly).
func Fit(y []float64, periodsPerYear int, opts Options) (*Model, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	n := len(y)
	if n < 3 {
		return nil, fmt.Errorf("history has %d periods, need at least 3", n)
	}
	if periodsPerYear < 2 {
		return nil, fmt.Errorf("periods per year must be at least 2, got %d", periodsPerYear)
	}

	m := &Model{periodsPerYear: periodsPerYear, n: n}

	work := make([]float64, n)
	copy(work, y)
	if opts.Mode == Multiplicative && strictlyPositive(y) {
		for i, v := range y {
			work[i] = math.Log(v)
		}
		m.logScale = true
	}

	m.mean = stat.Mean(work, nil)
	m.scale = stat.StdDev(work, nil)
	if m.scale == 0 || math.IsNaN(m.scale) {
		m.scale = 1
	}
	scaled := make([]float64, n)
	for i, v := range work {
		scaled[i] = (v - m.mean) / m.scale
	}

	m.order = effectiveOrder(opts.FourierOrder, periodsPerYear, n)
	m.changepoints = changepointGrid(n, changepointCount(opts.MaxChangepoints, n, m.order))

	nCP := len(m.changepoints)
	cols := 2 + nCP + 2*m.order
	rows := n + nCP

	a := mat.NewDense(rows, cols, nil)
	b := mat.NewVecDense(rows, nil)
	for i := 0; i < n; i++ {
		t := float64(i) / float64(n-1)
		a.Set(i, 0, 1)
		a.Set(i, 1, t)
		for j, s := range m.changepoints {
			if t > s {
				a.Set(i, 2+j, t-s)
			}
		}
		phase := 2 * math.Pi * float64(i) / float64(periodsPerYear)
		for k := 1; k <= m.order; k++ {
			a.Set(i, 2+nCP+2*(k-1), math.Sin(phase*float64(k)))
			a.Set(i, 2+nCP+2*(k-1)+1, math.Cos(phase*float64(k)))
		}
		b.SetVec(i, scaled[i])
	}
	// Ridge rows shrink the slope changes toward zero so the trend only
	// bends where the data insists.
	penalty := math.Sqrt(opts.ChangepointPenalty)
	for j := 0; j < nCP; j++ {
		a.Set(n+j, 2+j, penalty)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(a, b); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, fmt.Errorf("least squares fit failed: %w", err)
		}
	}
	m.coef = make([]float64, cols)
	for i := range m.coef {
		m.coef[i] = sol.AtVec(i)
	}

	resid := make([]float64, n)
	for i := 0; i < n; i++ {
		trend, seas := m.parts(i)
		resid[i] = scaled[i] - trend - seas
	}
	m.residStd = stat.StdDev(resid, nil)
	if math.IsNaN(m.residStd) {
		m.residStd = 0
	}
	m.band = distuv.UnitNormal.Quantile(0.5 + opts.IntervalWidth/2)

	return m, nil
}

// Multiplicative reports whether the model was fitted on the log scale.
// It is false when a multiplicative request fell back to additive.
func (m *Model) Multiplicative() bool {
	return m.logScale
}

// FittedPeriods returns the number of history periods the model was fitted
// on.
func (m *Model) FittedPeriods() int {
	return m.n
}

// Predict evaluates the fitted model over the first total periods of the
// grid, which covers the history and extends beyond it.
func (m *Model) Predict(total int) Components {
	c := Components{
		Total:    make([]float64, total),
		Lower:    make([]float64, total),
		Upper:    make([]float64, total),
		Trend:    make([]float64, total),
		Seasonal: make([]float64, total),
	}
	half := m.band * m.residStd * m.scale
	for i := 0; i < total; i++ {
		trendZ, seasZ := m.parts(i)
		trend := m.mean + m.scale*trendZ
		seas := m.scale * seasZ
		if m.logScale {
			expTrend := math.Exp(trend)
			expTotal := math.Exp(trend + seas)
			c.Trend[i] = expTrend
			c.Total[i] = expTotal
			c.Seasonal[i] = expTotal - expTrend
			c.Lower[i] = expTotal * math.Exp(-half)
			c.Upper[i] = expTotal * math.Exp(half)
		} else {
			c.Trend[i] = trend
			c.Seasonal[i] = seas
			c.Total[i] = trend + seas
			c.Lower[i] = trend + seas - half
			c.Upper[i] = trend + seas + half
		}
	}
	return c
}

// parts evaluates the standardized trend and seasonal terms at period i.
func (m *Model) parts(i int) (trend, seasonal float64) {
	t := float64(i) / float64(m.n-1)
	nCP := len(m.changepoints)
	trend = m.coef[0] + m.coef[1]*t
	for j, s := range m.changepoints {
		if t > s {
			trend += m.coef[2+j] * (t - s)
		}
	}
	phase := 2 * math.Pi * float64(i) / float64(m.periodsPerYear)
	for k := 1; k <= m.order; k++ {
		seasonal += m.coef[2+nCP+2*(k-1)] * math.Sin(phase*float64(k))
		seasonal += m.coef[2+nCP+2*(k-1)+1] * math.Cos(phase*float64(k))
	}
	return trend, seasonal
}

func strictlyPositive(y []float64) bool {
	for _, v := range y {
		if v <= 0 {
			return false
		}
	}
	return true
}

// effectiveOrder caps the yearly Fourier order at what the sampling
// frequency can resolve and at what the history length can support.
func effectiveOrder(order, periodsPerYear, n int) int {
	if maxByFreq := (periodsPerYear - 1) / 2; order > maxByFreq {
		order = maxByFreq
	}
	for order > 0 && 2+2*order >= n {
		order--
	}
	return order
}

// changepointCount scales the number of candidate changepoints with the
// history length, subject to the configured cap and to leaving the system
// overdetermined.
func changepointCount(limit, n, order int) int {
	count := int(math.Floor(constants.DefaultChangepointFraction * float64(n)))
	if count > limit {
		count = limit
	}
	if maxByParams := n - 2 - 2*order - 1; count > maxByParams {
		count = maxByParams
	}
	if count < 0 {
		count = 0
	}
	return count
}

// changepointGrid spreads count changepoints evenly over the first 80% of
// the fitted window, skipping the very first period.
func changepointGrid(n, count int) []float64 {
	if count <= 0 {
		return nil
	}
	hist := int(math.Floor(0.8 * float64(n)))
	if hist < 2 {
		return nil
	}
	if count > hist-1 {
		count = hist - 1
	}
	grid := make([]float64, count)
	for j := 1; j <= count; j++ {
		idx := float64(j) * float64(hist-1) / float64(count)
		grid[j-1] = idx / float64(n-1)
	}
	return grid
}
