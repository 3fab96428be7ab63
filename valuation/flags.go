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

// Flag is a single screening signal code.
type Flag string

const (
	FlagBelowNCAV      Flag = "below-ncav"
	FlagMarginOfSafety Flag = "margin-of-safety"
	FlagCurrentRatio   Flag = "current-ratio"
	FlagNCAVImproving  Flag = "ncav-improving"
	FlagBuyback        Flag = "buyback"
	FlagInsiderBuying  Flag = "insider-buying"

	FlagStaleFiling      Flag = "stale-filing"
	FlagNCAVDown         Flag = "ncav-deteriorating"
	FlagDilution         Flag = "dilution"
	FlagHighLeverage     Flag = "high-leverage"
	FlagInsiderSelling   Flag = "insider-selling"
	FlagNegativeNCAV     Flag = "negative-ncav"
	FlagExcessIssuance1Y Flag = "issuance-1y"
	FlagExcessIssuance3Y Flag = "issuance-3y"
)

// thresholds applied by the flag engine; evaluation never consults live
// config so two runs over identical inputs flag identically
const (
	currentRatioFloor = 2.0
	leverageCeiling   = 1.5
	issuance1YLimit   = 0.08
	issuance3YLimit   = 0.20
)

// EvaluateFlags is a pure function from the derived metrics to two disjoint,
// ordered flag sets. Evaluation order is fixed: greens are tested
// below-NCAV, margin-of-safety, current-ratio, NCAV-improving, buyback,
// insider-buying; reds are tested negative-NCAV, stale-filing,
// ncav-deteriorating, dilution, issuance-1y, issuance-3y, high-leverage,
// insider-selling. A stale base snapshot disqualifies the trend-based greens
// (NCAV-improving, buyback) regardless of the underlying deltas.
func EvaluateFlags(metrics *Metrics, trend *Trend, insiders *InsiderSummary, staleFiling bool) (green []Flag, red []Flag) {
	green = make([]Flag, 0, 6)
	red = make([]Flag, 0, 8)

	if metrics.BelowNCAV {
		green = append(green, FlagBelowNCAV)
	}
	if metrics.MarginOfSafety {
		green = append(green, FlagMarginOfSafety)
	}
	if metrics.CurrentRatio != nil && *metrics.CurrentRatio >= currentRatioFloor {
		green = append(green, FlagCurrentRatio)
	}
	if !staleFiling {
		if trend.Improving != nil && *trend.Improving {
			green = append(green, FlagNCAVImproving)
		}
		if trend.Action1Y == ActionBuyback || trend.Action3Y == ActionBuyback {
			green = append(green, FlagBuyback)
		}
	}
	if insiders.Signal == SignalBuy || insiders.Signal == SignalNetBuy {
		green = append(green, FlagInsiderBuying)
	}

	if !metrics.NCAVPerShare.IsPositive() {
		red = append(red, FlagNegativeNCAV)
	}
	if staleFiling {
		red = append(red, FlagStaleFiling)
	}
	if trend.Improving != nil && !*trend.Improving {
		red = append(red, FlagNCAVDown)
	}
	if trend.Action1Y == ActionDilution || trend.Action3Y == ActionDilution {
		red = append(red, FlagDilution)
	}
	// issuance is judged on the worst increase inside each window, not the
	// endpoint pair, so a spike that later unwound still flags
	if trend.MaxDilution1Y != nil && *trend.MaxDilution1Y > issuance1YLimit {
		red = append(red, FlagExcessIssuance1Y)
	}
	if trend.MaxIssue3Y != nil && *trend.MaxIssue3Y > issuance3YLimit {
		red = append(red, FlagExcessIssuance3Y)
	}
	if metrics.DebtToEquity != nil && *metrics.DebtToEquity > leverageCeiling {
		red = append(red, FlagHighLeverage)
	}
	if insiders.Signal == SignalSell || insiders.Signal == SignalNetSell {
		red = append(red, FlagInsiderSelling)
	}

	return green, red
}
