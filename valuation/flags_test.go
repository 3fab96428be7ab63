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

package valuation_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/ncav-screener/valuation"
	"github.com/shopspring/decimal"
)

func floatPtr(val float64) *float64 {
	return &val
}

func boolPtr(val bool) *bool {
	return &val
}

func netNetMetrics() *valuation.Metrics {
	return &valuation.Metrics{
		NCAV:           decimal.RequireFromString("600000"),
		NCAVPerShare:   decimal.RequireFromString("0.3"),
		Currency:       "USD",
		Price:          decimal.RequireFromString("0.18"),
		PriceToNCAV:    floatPtr(0.6),
		BelowNCAV:      true,
		MarginOfSafety: true,
		CurrentRatio:   floatPtr(2.5),
		DebtToEquity:   floatPtr(0.57),
	}
}

func improvingTrend() *valuation.Trend {
	return &valuation.Trend{
		YoY:       valuation.Delta{Horizon: valuation.HorizonYoY, Available: true, NCAVPct: floatPtr(0.2)},
		Improving: boolPtr(true),
		Action1Y:  valuation.ActionStable,
		Action3Y:  valuation.ActionBuyback,
	}
}

func quietInsiders() *valuation.InsiderSummary {
	return &valuation.InsiderSummary{Signal: valuation.SignalNone}
}

var _ = Describe("EvaluateFlags", func() {
	Context("with a healthy net-net", func() {
		It("emits the favorable flags in documented order", func() {
			green, red := valuation.EvaluateFlags(netNetMetrics(), improvingTrend(), quietInsiders(), false)

			Expect(green).To(Equal([]valuation.Flag{
				valuation.FlagBelowNCAV,
				valuation.FlagMarginOfSafety,
				valuation.FlagCurrentRatio,
				valuation.FlagNCAVImproving,
				valuation.FlagBuyback,
			}))
			Expect(red).To(BeEmpty())
		})

		It("emits no insider flag for a none signal", func() {
			green, red := valuation.EvaluateFlags(netNetMetrics(), improvingTrend(), quietInsiders(), false)
			Expect(green).NotTo(ContainElement(valuation.FlagInsiderBuying))
			Expect(red).NotTo(ContainElement(valuation.FlagInsiderSelling))
		})
	})

	Context("with a stale base filing", func() {
		It("forces the stale red flag and withholds trend greens", func() {
			green, red := valuation.EvaluateFlags(netNetMetrics(), improvingTrend(), quietInsiders(), true)

			Expect(red).To(ContainElement(valuation.FlagStaleFiling))
			Expect(green).NotTo(ContainElement(valuation.FlagNCAVImproving))
			Expect(green).NotTo(ContainElement(valuation.FlagBuyback))
			// non-trend greens are unaffected
			Expect(green).To(ContainElement(valuation.FlagMarginOfSafety))
		})
	})

	Context("with unfavorable signals", func() {
		It("flags deterioration, dilution and leverage", func() {
			metrics := netNetMetrics()
			metrics.DebtToEquity = floatPtr(2.1)
			trend := &valuation.Trend{
				YoY:           valuation.Delta{Horizon: valuation.HorizonYoY, Available: true, NCAVPct: floatPtr(-0.25)},
				Improving:     boolPtr(false),
				Action1Y:      valuation.ActionDilution,
				Action3Y:      valuation.ActionStable,
				SharesPct1Y:   floatPtr(0.12),
				MaxDilution1Y: floatPtr(0.12),
			}
			insiders := &valuation.InsiderSummary{Signal: valuation.SignalNetSell}

			green, red := valuation.EvaluateFlags(metrics, trend, insiders, false)
			Expect(green).NotTo(ContainElement(valuation.FlagNCAVImproving))
			Expect(red).To(Equal([]valuation.Flag{
				valuation.FlagNCAVDown,
				valuation.FlagDilution,
				valuation.FlagExcessIssuance1Y,
				valuation.FlagHighLeverage,
				valuation.FlagInsiderSelling,
			}))
		})

		It("flags issuance from the window maximum when the endpoints net out", func() {
			trend := improvingTrend()
			trend.SharesPct1Y = floatPtr(0.0)
			trend.MaxDilution1Y = floatPtr(0.17)

			_, red := valuation.EvaluateFlags(netNetMetrics(), trend, quietInsiders(), false)
			Expect(red).To(ContainElement(valuation.FlagExcessIssuance1Y))
		})

		It("flags a negative NCAV", func() {
			metrics := netNetMetrics()
			metrics.NCAVPerShare = decimal.RequireFromString("-0.25")
			metrics.PriceToNCAV = nil
			metrics.BelowNCAV = false
			metrics.MarginOfSafety = false

			green, red := valuation.EvaluateFlags(metrics, &valuation.Trend{Action1Y: valuation.ActionUnavailable, Action3Y: valuation.ActionUnavailable}, quietInsiders(), false)
			Expect(red).To(ContainElement(valuation.FlagNegativeNCAV))
			Expect(green).NotTo(ContainElement(valuation.FlagBelowNCAV))
		})

		It("flags net insider buying as favorable", func() {
			insiders := &valuation.InsiderSummary{Signal: valuation.SignalNetBuy}
			green, _ := valuation.EvaluateFlags(netNetMetrics(), improvingTrend(), insiders, false)
			Expect(green).To(ContainElement(valuation.FlagInsiderBuying))
		})
	})
})

var _ = Describe("Result", func() {
	buildResult := func() *valuation.Result {
		return &valuation.Result{
			Ticker:      "OP.US",
			Market:      "US",
			FilingDate:  time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
			Metrics:     netNetMetrics(),
			Trend:       improvingTrend(),
			Insiders:    quietInsiders(),
			GreenFlags:  []valuation.Flag{valuation.FlagBelowNCAV},
			GeneratedAt: time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC),
		}
	}

	It("fingerprints identically for identical inputs", func() {
		first, err := buildResult().Fingerprint()
		Expect(err).To(BeNil())

		second := buildResult()
		// wall-clock time never contributes to the fingerprint
		second.GeneratedAt = second.GeneratedAt.Add(48 * time.Hour)
		secondPrint, err := second.Fingerprint()
		Expect(err).To(BeNil())

		Expect(secondPrint).To(Equal(first))
	})

	It("fingerprints differently when any input changes", func() {
		first, err := buildResult().Fingerprint()
		Expect(err).To(BeNil())

		changed := buildResult()
		changed.Metrics.Price = decimal.RequireFromString("0.19")
		changedPrint, err := changed.Fingerprint()
		Expect(err).To(BeNil())

		Expect(changedPrint).NotTo(Equal(first))
	})
})
