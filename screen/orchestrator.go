// Copyright 2021-2023
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package screen

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/observability/opentelemetry"
	"github.com/penny-vault/ncav-screener/valuation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// RunReport is the outcome of one screening run. Results are ordered by
// ticker, not completion order.
type RunReport struct {
	RunID             string              `json:"runId"`
	ReportingCurrency string              `json:"reportingCurrency"`
	Started           time.Time           `json:"started"`
	Finished          time.Time           `json:"finished"`
	Results           []*valuation.Result `json:"results"`
}

// Orchestrator drives the per-ticker pipeline: cache lookup, fetch if
// needed, normalize, compute, flag. Tickers evaluate independently on a
// bounded worker pool; one ticker failing never aborts the batch.
type Orchestrator struct {
	cache      *data.Cache
	registry   *data.AdapterRegistry
	markets    map[string]data.MarketConfig
	calculator *valuation.Calculator
	analyzer   *valuation.Analyzer

	clock func() time.Time
}

func NewOrchestrator(cache *data.Cache, registry *data.AdapterRegistry, markets map[string]data.MarketConfig, calculator *valuation.Calculator, analyzer *valuation.Analyzer) *Orchestrator {
	return &Orchestrator{
		cache:      cache,
		registry:   registry,
		markets:    markets,
		calculator: calculator,
		analyzer:   analyzer,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// Run screens every company in the shortlist and returns a report ordered
// by ticker.
func (orchestrator *Orchestrator) Run(ctx context.Context, companies []*data.Company) (*RunReport, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "screen.Run")
	defer span.End()

	report := &RunReport{
		RunID:             uuid.New().String(),
		ReportingCurrency: orchestrator.calculator.ReportingCurrency(),
		Started:           orchestrator.clock(),
		Results:           make([]*valuation.Result, 0, len(companies)),
	}

	subLog := log.With().Str("RunID", report.RunID).Int("NumCompanies", len(companies)).Logger()
	subLog.Info().Msg("starting screening run")

	maxWorkers := viper.GetInt("screen.max_workers")
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	work := make(chan *data.Company)
	var locker sync.Mutex

	workers, workerCtx := errgroup.WithContext(ctx)
	for ii := 0; ii < maxWorkers; ii++ {
		workers.Go(func() error {
			for company := range work {
				result := orchestrator.evaluate(workerCtx, company)
				locker.Lock()
				report.Results = append(report.Results, result)
				locker.Unlock()
			}
			return nil
		})
	}

	for _, company := range companies {
		work <- company
	}
	close(work)

	if err := workers.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(report.Results, func(i, j int) bool {
		return report.Results[i].Ticker < report.Results[j].Ticker
	})

	report.Finished = orchestrator.clock()
	subLog.Info().Dur("Elapsed", report.Finished.Sub(report.Started)).Msg("screening run complete")
	return report, nil
}

// evaluate runs the full pipeline for one company. Sub-fetches (fundamentals,
// insider history, price) run concurrently and join before flag evaluation.
// All failures are folded into the result rather than returned.
func (orchestrator *Orchestrator) evaluate(ctx context.Context, company *data.Company) *valuation.Result {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "screen.evaluate")
	defer span.End()

	now := orchestrator.clock()
	result := &valuation.Result{
		Ticker:      company.Ticker,
		Name:        company.Name,
		Market:      company.Market,
		GeneratedAt: now,
	}

	subLog := log.With().Str("Ticker", company.Ticker).Logger()

	var (
		snapshots data.SnapshotSet
		txns      []*data.InsiderTransaction
		quote     *data.PriceQuote
		quoteErr  error
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		snapshots, result.DegradedFundamentals, err = orchestrator.cache.Fundamentals(groupCtx, company)
		return err
	})
	group.Go(func() error {
		var err error
		txns, result.DegradedInsiders, err = orchestrator.cache.Insiders(groupCtx, company)
		if err != nil {
			// sparse or missing insider history degrades to a none
			// signal; it never fails the ticker
			subLog.Warn().Err(err).Msg("insider fetch failed; continuing without")
			txns = nil
			result.DegradedInsiders = true
		}
		return nil
	})
	group.Go(func() error {
		adapter, err := orchestrator.registry.ForMarket(company.Market)
		if err != nil {
			quoteErr = err
			return nil
		}
		quote, quoteErr = adapter.FetchPrice(groupCtx, company)
		return nil
	})

	if err := group.Wait(); err != nil {
		subLog.Warn().Err(err).Msg("could not evaluate ticker")
		result.Err = err.Error()
		return result
	}
	if quoteErr != nil {
		subLog.Warn().Err(quoteErr).Msg("could not fetch price")
		result.Err = quoteErr.Error()
		return result
	}

	latest := snapshots.Authoritative().Latest()
	if latest == nil {
		result.Err = data.ErrNoData.Error()
		return result
	}
	result.FilingDate = latest.FilingDate
	result.DataAgeDays = int(now.Sub(latest.FilingDate).Hours() / 24)

	metrics, err := orchestrator.calculator.Compute(ctx, latest, quote)
	if err != nil {
		subLog.Warn().Err(err).Msg("could not compute valuation")
		result.Err = err.Error()
		return result
	}
	result.Metrics = metrics

	result.Trend = orchestrator.analyzer.Analyze(ctx, snapshots)
	result.Insiders = valuation.EvaluateInsiders(txns, now)
	result.StaleFiling = orchestrator.staleFiling(company.Market, latest, now)
	result.GreenFlags, result.RedFlags = valuation.EvaluateFlags(result.Metrics, result.Trend, result.Insiders, result.StaleFiling)

	return result
}

// staleFiling reports whether the base snapshot is older than two reporting
// periods for the company's market.
func (orchestrator *Orchestrator) staleFiling(market string, snapshot *data.FinancialSnapshot, now time.Time) bool {
	period := 90 * 24 * time.Hour
	if cfg, ok := orchestrator.markets[market]; ok && cfg.ReportingPeriodDays > 0 {
		period = cfg.ReportingPeriod()
	}
	return now.Sub(snapshot.FilingDate) > 2*period
}
