package baseline

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civicbudget/tax-forecast/internal/forecast"
	"github.com/civicbudget/tax-forecast/internal/seasonal"
	"github.com/civicbudget/tax-forecast/internal/transform"
	"github.com/civicbudget/tax-forecast/pkg/errs"
	"github.com/civicbudget/tax-forecast/pkg/fiscal"
	"github.com/civicbudget/tax-forecast/pkg/series"
)

// Inputs carries everything one tax's baseline needs. The configuration
// layer assembles one per tax; the pipeline itself touches no files except
// the cache.
type Inputs struct {
	Tax            string
	Actuals        *series.Series
	SectorHistory  []transform.SectorRecord
	SectorsByMonth bool
	IgnoreSectors  bool
	UseSubsectors  bool
	Rates          *transform.RateTable
	Freq           fiscal.Freq
	FitWindow      fiscal.Window
	ForecastStop   time.Time
	Seasonal       seasonal.Options
	Targets        *Targets

	// Crosswalk regroups sector columns into coarser groups, either before
	// fitting (the models see the groups; the grouping joins the cache key)
	// or after fitting (the cached fine-grained fit survives regrouping
	// changes).
	Crosswalk         map[string][]string
	CrosswalkAfterFit bool

	ExtraFitParams map[string]string
}

// Result is one tax's finished baseline.
type Result struct {
	Tax           string
	Freq          fiscal.Freq
	RawActuals    *series.Series  // as loaded
	ActualRevenue *series.Series  // after disaggregation, crosswalk, resampling
	ActualBase    *series.Series  // ActualRevenue in tax-base units
	BaseTable     *forecast.Table // fitted forecast in tax-base units, uncalibrated
	RevenueTable  *forecast.Table // calibrated forecast in revenue units
	Factors       Factors
	Metrics       FitMetrics
	CacheHit      bool
	CachePath     string
}

// Pipeline runs the baseline stages for one tax at a time: disaggregate by
// sector, resample to quarters, convert to tax base, fit (through the
// cache), convert back to revenue, calibrate.
type Pipeline struct {
	fitter Fitter
	cache  *Cache
	fresh  bool
	logger *zap.Logger
}

// NewPipeline creates a Pipeline. fresh forces refitting even when a cache
// entry exists; a nil cache disables caching entirely.
func NewPipeline(fitter Fitter, cache *Cache, fresh bool, logger *zap.Logger) *Pipeline {
	if fitter == nil {
		fitter = ModelFitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{fitter: fitter, cache: cache, fresh: fresh, logger: logger}
}

// Run executes the pipeline for one tax.
func (p *Pipeline) Run(in Inputs) (*Result, error) {
	if in.Actuals == nil || in.Actuals.Len() == 0 {
		return nil, &errs.MissingHistoryError{Tax: in.Tax, Detail: "no collection actuals loaded"}
	}
	log := p.logger.With(zap.String("tax", in.Tax))

	processed := in.Actuals.Clone()

	if len(in.SectorHistory) > 0 && !in.IgnoreSectors && !processed.HasSectors() {
		shares, err := transform.FitShares(in.SectorHistory, in.SectorsByMonth)
		if err != nil {
			return nil, fmt.Errorf("%s: fit sector shares: %w", in.Tax, err)
		}
		processed, err = transform.Disaggregate(processed, shares)
		if err != nil {
			return nil, fmt.Errorf("%s: disaggregate: %w", in.Tax, err)
		}
		log.Debug("disaggregated collections by sector",
			zap.String("op", "baseline.Pipeline.Run"),
			zap.Int("sectors", len(processed.Sectors())),
		)
	}

	if in.Crosswalk != nil && !in.CrosswalkAfterFit {
		var err error
		processed, err = processed.Regroup(in.Crosswalk)
		if err != nil {
			return nil, fmt.Errorf("%s: crosswalk: %w", in.Tax, err)
		}
	}

	if in.Freq == fiscal.Quarterly {
		processed = series.AggregateToQuarters(processed)
	}

	conv := transform.NewConverter(in.Rates, log)
	baseActuals, err := conv.ToBase(processed)
	if err != nil {
		return nil, fmt.Errorf("%s: to tax base: %w", in.Tax, err)
	}

	fitInput := baseActuals.Window(in.FitWindow.Start, in.FitWindow.Stop)
	if fitInput.Len() == 0 {
		return nil, &errs.MissingHistoryError{
			Tax:    in.Tax,
			Detail: fmt.Sprintf("no actuals inside the fit window %s", in.FitWindow),
		}
	}
	inferred, err := fiscal.InferFreq(fitInput.Dates())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", in.Tax, err)
	}
	if inferred != in.Freq {
		return nil, &errs.DataAlignmentError{
			Op: "baseline.Pipeline.Run",
			Detail: fmt.Sprintf("configured frequency %s does not match inferred frequency %s",
				in.Freq, inferred),
		}
	}

	opts := in.Seasonal.Normalized()
	key := p.cacheKey(in, opts)
	cachePath := ""
	if p.cache != nil {
		if cachePath, err = p.cache.Path(in.Tax, key); err != nil {
			return nil, fmt.Errorf("%s: %w", in.Tax, err)
		}
	}

	var fitted *forecast.Table
	cacheHit := false
	if p.cache != nil && !p.fresh {
		t, ok, err := p.cache.Load(in.Tax, key)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", in.Tax, err)
		}
		if ok {
			fitted, cacheHit = t, true
		}
	}
	if fitted == nil {
		forecaster := NewForecaster(p.fitter, opts, log)
		if fitted, err = forecaster.FitPredict(fitInput, in.ForecastStop); err != nil {
			return nil, fmt.Errorf("%s: %w", in.Tax, err)
		}
		if p.cache != nil {
			if err := p.cache.Store(in.Tax, key, fitted); err != nil {
				return nil, fmt.Errorf("%s: %w", in.Tax, err)
			}
		}
	}

	baseTable := fitted
	actualRevenue := processed
	actualBase := baseActuals
	if in.Crosswalk != nil && in.CrosswalkAfterFit {
		if baseTable, err = fitted.Regroup(in.Crosswalk); err != nil {
			return nil, fmt.Errorf("%s: crosswalk: %w", in.Tax, err)
		}
		if actualRevenue, err = actualRevenue.Regroup(in.Crosswalk); err != nil {
			return nil, fmt.Errorf("%s: crosswalk: %w", in.Tax, err)
		}
		if actualBase, err = actualBase.Regroup(in.Crosswalk); err != nil {
			return nil, fmt.Errorf("%s: crosswalk: %w", in.Tax, err)
		}
	}

	revTable, err := conv.TableToRevenue(baseTable)
	if err != nil {
		return nil, fmt.Errorf("%s: to revenue: %w", in.Tax, err)
	}

	metrics := MeasureFit(revTable, actualRevenue.Window(in.FitWindow.Start, in.FitWindow.Stop))
	log.Info("fitted baseline",
		zap.String("op", "baseline.Pipeline.Run"),
		zap.Bool("cacheHit", cacheHit),
		zap.Int("fitPeriods", metrics.N),
		zap.Float64("mae", metrics.MAE),
		zap.Float64("mape", metrics.MAPE),
		zap.Float64("rmse", metrics.RMSE),
	)

	factors := Factors{}
	final := revTable
	if in.Targets != nil {
		cal := NewCalibrator(log)
		if factors, err = cal.Fit(revTable, baseTable, *in.Targets); err != nil {
			return nil, fmt.Errorf("%s: %w", in.Tax, err)
		}
		final = cal.Transform(revTable, factors)
	}

	return &Result{
		Tax:           in.Tax,
		Freq:          in.Freq,
		RawActuals:    in.Actuals.Clone(),
		ActualRevenue: actualRevenue,
		ActualBase:    actualBase,
		BaseTable:     baseTable,
		RevenueTable:  final,
		Factors:       factors,
		Metrics:       metrics,
		CacheHit:      cacheHit,
		CachePath:     cachePath,
	}, nil
}

func (p *Pipeline) cacheKey(in Inputs, opts seasonal.Options) CacheKey {
	key := CacheKey{
		SchemaVersion:      cacheSchemaVersion,
		Freq:               in.Freq.String(),
		FitStart:           in.FitWindow.Start.Format(fiscal.DateTimeLayout),
		FitStop:            in.FitWindow.Stop.Format(fiscal.DateTimeLayout),
		ForecastStop:       in.ForecastStop.Format(fiscal.DateTimeLayout),
		IgnoreSectors:      in.IgnoreSectors,
		UseSubsectors:      in.UseSubsectors,
		SeasonalityMode:    string(opts.Mode),
		ChangepointCap:     opts.MaxChangepoints,
		ChangepointPenalty: opts.ChangepointPenalty,
		IntervalWidth:      opts.IntervalWidth,
		FourierOrder:       opts.FourierOrder,
	}

	crosswalkInKey := in.Crosswalk != nil && !in.CrosswalkAfterFit
	if len(in.ExtraFitParams) > 0 || crosswalkInKey {
		key.ExtraFitParams = make(map[string]string, len(in.ExtraFitParams)+1)
		for k, v := range in.ExtraFitParams {
			key.ExtraFitParams[k] = v
		}
		if crosswalkInKey {
			key.ExtraFitParams["crosswalk"] = crosswalkFingerprint(in.Crosswalk)
		}
	}
	return key
}

// crosswalkFingerprint serializes a grouping deterministically so it can
// join the cache key.
func crosswalkFingerprint(groups map[string][]string) string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		members := append([]string(nil), groups[name]...)
		sort.Strings(members)
		parts = append(parts, name+":"+strings.Join(members, "|"))
	}
	return strings.Join(parts, ";")
}
