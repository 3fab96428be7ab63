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

package valuation

import (
	"context"
	"time"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/fx"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/stat"
)

// Horizon labels a period-over-period comparison window
type Horizon string

const (
	HorizonQoQ Horizon = "qoq"
	HorizonHoH Horizon = "hoh"
	HorizonYoY Horizon = "yoy"
)

// horizonTargets maps each horizon to its target filing-date gap and the
// tolerance for accepting a prior snapshot as the comparison base. Filing
// calendars drift, so exact gaps never occur in practice.
var horizonTargets = map[Horizon]struct {
	target    time.Duration
	tolerance time.Duration
}{
	HorizonQoQ: {target: 91 * day, tolerance: 45 * day},
	HorizonHoH: {target: 182 * day, tolerance: 60 * day},
	HorizonYoY: {target: 365 * day, tolerance: 90 * day},
}

const day = 24 * time.Hour

// Delta is a signed percentage comparison between the latest snapshot and a
// prior one. Available is false when no prior snapshot falls inside the
// horizon's gap tolerance; an unavailable delta is never treated as zero.
type Delta struct {
	Horizon   Horizon   `json:"horizon"`
	Available bool      `json:"available"`
	NCAVPct   *float64  `json:"ncavPct,omitempty"`
	SharesPct *float64  `json:"sharesPct,omitempty"`
	From      time.Time `json:"from,omitempty"`
	To        time.Time `json:"to,omitempty"`
}

// CapitalAction classifies a share-count change over a window
type CapitalAction string

const (
	ActionBuyback     CapitalAction = "buyback"
	ActionDilution    CapitalAction = "dilution"
	ActionStable      CapitalAction = "stable"
	ActionUnavailable CapitalAction = "unavailable"
)

// Trend is the TrendAnalyzer output for one company.
type Trend struct {
	QoQ Delta `json:"qoq"`
	HoH Delta `json:"hoh"`
	YoY Delta `json:"yoy"`

	// Improving reflects the longest available horizon; nil when no
	// horizon has a comparison base.
	Improving *bool `json:"improving,omitempty"`

	SharesPct1Y *float64      `json:"sharesPct1Y,omitempty"`
	SharesPct3Y *float64      `json:"sharesPct3Y,omitempty"`
	Action1Y    CapitalAction `json:"action1Y"`
	Action3Y    CapitalAction `json:"action3Y"`

	// worst share-count moves against any qualifying base inside each
	// window; an intermediate spike counts even when the endpoints net out
	MaxDilution1Y *float64 `json:"maxDilution1Y,omitempty"`
	MaxIssue3Y    *float64 `json:"maxIssue3Y,omitempty"`
	MaxBuyback3Y  *float64 `json:"maxBuyback3Y,omitempty"`

	// NCAVSlope is the fitted NCAV change per year as a fraction of the
	// latest NCAV, over up to three years of history; nil below 3 points.
	NCAVSlope *float64 `json:"ncavSlope,omitempty"`
}

// Analyzer computes period-over-period NCAV and share-count deltas from a
// company's snapshot history.
type Analyzer struct {
	resolver *fx.Resolver

	dilutionThreshold float64
	buybackThreshold  float64
}

func NewAnalyzer(resolver *fx.Resolver) *Analyzer {
	analyzer := &Analyzer{
		resolver:          resolver,
		dilutionThreshold: viper.GetFloat64("trend.dilution_threshold"),
		buybackThreshold:  viper.GetFloat64("trend.buyback_threshold"),
	}
	if analyzer.dilutionThreshold <= 0 {
		analyzer.dilutionThreshold = 0.05
	}
	if analyzer.buybackThreshold >= 0 {
		analyzer.buybackThreshold = -0.05
	}
	return analyzer
}

// Analyze compares the latest authoritative snapshot against prior periods.
// Sub-metric failures (missing fields, unresolvable FX for one pair) degrade
// the affected horizon to unavailable rather than failing the company.
func (analyzer *Analyzer) Analyze(ctx context.Context, history data.SnapshotSet) *Trend {
	trend := &Trend{
		QoQ:      Delta{Horizon: HorizonQoQ},
		HoH:      Delta{Horizon: HorizonHoH},
		YoY:      Delta{Horizon: HorizonYoY},
		Action1Y: ActionUnavailable,
		Action3Y: ActionUnavailable,
	}

	authoritative := history.Authoritative()
	latest := authoritative.Latest()
	if latest == nil {
		return trend
	}

	trend.QoQ = analyzer.delta(ctx, authoritative, latest, HorizonQoQ)
	trend.HoH = analyzer.delta(ctx, authoritative, latest, HorizonHoH)
	trend.YoY = analyzer.delta(ctx, authoritative, latest, HorizonYoY)

	for _, delta := range []Delta{trend.YoY, trend.HoH, trend.QoQ} {
		if delta.Available && delta.NCAVPct != nil {
			improving := *delta.NCAVPct >= 0
			trend.Improving = &improving
			break
		}
	}

	trend.SharesPct1Y = sharesPct(latest, pairFor(authoritative, latest, 365*day, 90*day))
	trend.SharesPct3Y = sharesPct(latest, pairFor(authoritative, latest, 3*365*day, 180*day))

	max1Y, min1Y := sharesExtremes(authoritative, latest, 365*day, 90*day)
	max3Y, min3Y := sharesExtremes(authoritative, latest, 3*365*day, 180*day)
	trend.MaxDilution1Y = max1Y
	trend.MaxIssue3Y = max3Y
	trend.MaxBuyback3Y = min3Y
	trend.Action1Y = analyzer.classify(max1Y, min1Y)
	trend.Action3Y = analyzer.classify(max3Y, min3Y)

	trend.NCAVSlope = analyzer.slope(ctx, authoritative, latest)

	return trend
}

func (analyzer *Analyzer) delta(ctx context.Context, set data.SnapshotSet, latest *data.FinancialSnapshot, horizon Horizon) Delta {
	target := horizonTargets[horizon]
	prior := pairFor(set, latest, target.target, target.tolerance)
	if prior == nil {
		return Delta{Horizon: horizon}
	}

	delta := Delta{
		Horizon:   horizon,
		Available: true,
		From:      prior.FilingDate,
		To:        latest.FilingDate,
	}

	latestNCAV, priorNCAV, ok := analyzer.comparableNCAV(ctx, latest, prior)
	if ok && !priorNCAV.IsZero() {
		pct, _ := latestNCAV.Sub(priorNCAV).Div(priorNCAV.Abs()).Float64()
		delta.NCAVPct = &pct
	}

	delta.SharesPct = sharesPct(latest, prior)
	return delta
}

// comparableNCAV returns both snapshots' NCAV in the latest snapshot's
// currency. Cross-currency histories convert the prior figure at its own
// filing date; if the rate cannot be resolved the comparison is dropped.
func (analyzer *Analyzer) comparableNCAV(ctx context.Context, latest, prior *data.FinancialSnapshot) (decimal.Decimal, decimal.Decimal, bool) {
	latestNCAV, ok := rawNCAV(latest)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}
	priorNCAV, ok := rawNCAV(prior)
	if !ok {
		return decimal.Zero, decimal.Zero, false
	}

	latestCcy := fx.Normalize(latest.Currency)
	priorCcy := fx.Normalize(prior.Currency)
	if latestCcy != priorCcy {
		converted, _, err := analyzer.resolver.Convert(ctx, priorNCAV, priorCcy, latestCcy, prior.FilingDate)
		if err != nil {
			return decimal.Zero, decimal.Zero, false
		}
		priorNCAV = converted
	}

	return latestNCAV, priorNCAV, true
}

// classify picks the dominant capital action from the worst moves inside a
// window; when both thresholds trip, the larger magnitude wins.
func (analyzer *Analyzer) classify(maxPct, minPct *float64) CapitalAction {
	if maxPct == nil || minPct == nil {
		return ActionUnavailable
	}

	diluted := *maxPct >= analyzer.dilutionThreshold
	boughtBack := *minPct <= analyzer.buybackThreshold
	switch {
	case diluted && boughtBack:
		if *maxPct >= -*minPct {
			return ActionDilution
		}
		return ActionBuyback
	case diluted:
		return ActionDilution
	case boughtBack:
		return ActionBuyback
	default:
		return ActionStable
	}
}

// sharesExtremes returns the largest share-count increase and decrease
// between latest and every prior snapshot whose gap fits the window plus the
// pairing tolerance. Both returns are nil when no prior qualifies.
func sharesExtremes(set data.SnapshotSet, latest *data.FinancialSnapshot, window, tolerance time.Duration) (maxPct, minPct *float64) {
	for _, snapshot := range set {
		gap := latest.FilingDate.Sub(snapshot.FilingDate)
		if gap <= 0 || gap > window+tolerance {
			continue
		}
		pct := sharesPct(latest, snapshot)
		if pct == nil {
			continue
		}
		if maxPct == nil || *pct > *maxPct {
			maxPct = pct
		}
		if minPct == nil || *pct < *minPct {
			minPct = pct
		}
	}
	return maxPct, minPct
}

// slope fits NCAV against time over up to three years of history and
// normalizes to a fraction of the latest NCAV per year. Cross-currency
// points are skipped rather than converted.
func (analyzer *Analyzer) slope(_ context.Context, set data.SnapshotSet, latest *data.FinancialSnapshot) *float64 {
	latestNCAV, ok := rawNCAV(latest)
	if !ok || latestNCAV.IsZero() {
		return nil
	}
	latestCcy := fx.Normalize(latest.Currency)
	cutoff := latest.FilingDate.Add(-3 * 365 * day)

	xs := make([]float64, 0, len(set))
	ys := make([]float64, 0, len(set))
	for _, snapshot := range set {
		if snapshot.FilingDate.Before(cutoff) {
			continue
		}
		if fx.Normalize(snapshot.Currency) != latestCcy {
			continue
		}
		ncav, ok := rawNCAV(snapshot)
		if !ok {
			continue
		}
		x := snapshot.FilingDate.Sub(cutoff).Hours() / 24
		y, _ := ncav.Float64()
		xs = append(xs, x)
		ys = append(ys, y)
	}

	if len(xs) < 3 {
		return nil
	}

	_, beta := stat.LinearRegression(xs, ys, nil, false)
	norm, _ := latestNCAV.Abs().Float64()
	slope := beta * 365 / norm
	return &slope
}

func rawNCAV(snapshot *data.FinancialSnapshot) (decimal.Decimal, bool) {
	if snapshot.CurrentAssets == nil || snapshot.TotalLiabilities == nil {
		return decimal.Zero, false
	}
	return snapshot.CurrentAssets.Sub(*snapshot.TotalLiabilities), true
}

func sharesPct(latest, prior *data.FinancialSnapshot) *float64 {
	if prior == nil || latest.SharesOut == nil || prior.SharesOut == nil || !prior.SharesOut.IsPositive() {
		return nil
	}
	pct, _ := latest.SharesOut.Sub(*prior.SharesOut).Div(*prior.SharesOut).Float64()
	return &pct
}

// pairFor finds the prior snapshot whose filing-date gap from latest is
// closest to target, within tolerance.
func pairFor(set data.SnapshotSet, latest *data.FinancialSnapshot, target, tolerance time.Duration) *data.FinancialSnapshot {
	var best *data.FinancialSnapshot
	var bestMiss time.Duration

	for _, snapshot := range set {
		gap := latest.FilingDate.Sub(snapshot.FilingDate)
		if gap <= 0 {
			continue
		}
		miss := gap - target
		if miss < 0 {
			miss = -miss
		}
		if miss > tolerance {
			continue
		}
		if best == nil || miss < bestMiss {
			best = snapshot
			bestMiss = miss
		}
	}

	return best
}
