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
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/fx"
	"github.com/penny-vault/ncav-screener/valuation"
)

func filing(date time.Time, currentAssets, liabilities, shares string) *data.FinancialSnapshot {
	return &data.FinancialSnapshot{
		Ticker:           "OP.US",
		FilingDate:       date,
		Currency:         "USD",
		CurrentAssets:    dec(currentAssets),
		TotalLiabilities: dec(liabilities),
		SharesOut:        dec(shares),
		Source:           "test",
		FetchedAt:        time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

var _ = Describe("Analyzer", func() {
	var (
		analyzer *valuation.Analyzer
		history  data.SnapshotSet
	)

	BeforeEach(func() {
		analyzer = valuation.NewAnalyzer(fx.NewResolver(tableSource{}))
		history = data.SnapshotSet{
			filing(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "1000000", "400000", "2000000"),
			filing(time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), "950000", "400000", "2000000"),
			filing(time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC), "920000", "400000", "1950000"),
			filing(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC), "900000", "400000", "1900000"),
			filing(time.Date(2020, 3, 31, 0, 0, 0, 0, time.UTC), "850000", "400000", "2200000"),
		}
		history.Sort()
	})

	Context("with a full snapshot history", func() {
		It("pairs each horizon by filing-date gap", func() {
			trend := analyzer.Analyze(context.Background(), history)

			Expect(trend.QoQ.Available).To(BeTrue())
			Expect(trend.QoQ.From).To(Equal(time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC)))

			Expect(trend.HoH.Available).To(BeTrue())
			Expect(trend.HoH.From).To(Equal(time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC)))

			Expect(trend.YoY.Available).To(BeTrue())
			Expect(trend.YoY.From).To(Equal(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC)))
		})

		It("computes signed NCAV percentages", func() {
			trend := analyzer.Analyze(context.Background(), history)

			// QoQ: (600000-550000)/550000
			Expect(*trend.QoQ.NCAVPct).To(BeNumerically("~", 50000.0/550000.0, 1e-9))
			// YoY: (600000-500000)/500000
			Expect(*trend.YoY.NCAVPct).To(BeNumerically("~", 0.20, 1e-9))
		})

		It("classifies the trend from the longest available horizon", func() {
			trend := analyzer.Analyze(context.Background(), history)
			Expect(trend.Improving).NotTo(BeNil())
			Expect(*trend.Improving).To(BeTrue())
		})

		It("classifies capital actions over the 1y and 3y windows", func() {
			trend := analyzer.Analyze(context.Background(), history)

			// 1y: 2000000 vs 1900000 -> +5.26% dilution
			Expect(*trend.SharesPct1Y).To(BeNumerically("~", 100000.0/1900000.0, 1e-9))
			Expect(trend.Action1Y).To(Equal(valuation.ActionDilution))

			// 3y: 2000000 vs 2200000 -> -9.1% buyback
			Expect(*trend.SharesPct3Y).To(BeNumerically("~", -200000.0/2200000.0, 1e-9))
			Expect(trend.Action3Y).To(Equal(valuation.ActionBuyback))
		})

		It("reports the worst share-count moves inside each window", func() {
			trend := analyzer.Analyze(context.Background(), history)

			// largest increase inside 1y is against the 2022-03-31 base
			Expect(*trend.MaxDilution1Y).To(BeNumerically("~", 100000.0/1900000.0, 1e-9))
			Expect(*trend.MaxIssue3Y).To(BeNumerically("~", 100000.0/1900000.0, 1e-9))
			// largest decrease inside 3y is against the 2020-03-31 base
			Expect(*trend.MaxBuyback3Y).To(BeNumerically("~", -200000.0/2200000.0, 1e-9))
		})

		It("fits an NCAV slope over the history", func() {
			trend := analyzer.Analyze(context.Background(), history)
			Expect(trend.NCAVSlope).NotTo(BeNil())
			Expect(*trend.NCAVSlope).To(BeNumerically(">", 0))
		})
	})

	Context("with a deteriorating NCAV", func() {
		It("classifies the trend as not improving", func() {
			history = data.SnapshotSet{
				filing(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "700000", "400000", "2000000"),
				filing(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC), "900000", "400000", "2000000"),
			}
			trend := analyzer.Analyze(context.Background(), history)
			Expect(trend.Improving).NotTo(BeNil())
			Expect(*trend.Improving).To(BeFalse())
			// (300000-500000)/500000
			Expect(*trend.YoY.NCAVPct).To(BeNumerically("~", -0.40, 1e-9))
		})
	})

	Context("with an issuance spike that later unwound", func() {
		It("keeps the intermediate increase in the window maximum", func() {
			history = data.SnapshotSet{
				filing(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "1000000", "400000", "2000000"),
				filing(time.Date(2022, 9, 30, 0, 0, 0, 0, time.UTC), "950000", "400000", "1700000"),
				filing(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC), "900000", "400000", "2000000"),
			}
			history.Sort()

			trend := analyzer.Analyze(context.Background(), history)
			// endpoints net to zero but the 2022-09-30 base shows +17.6%
			Expect(*trend.SharesPct1Y).To(BeNumerically("~", 0, 1e-9))
			Expect(*trend.MaxDilution1Y).To(BeNumerically("~", 300000.0/1700000.0, 1e-9))
			Expect(trend.Action1Y).To(Equal(valuation.ActionDilution))
		})
	})

	Context("with a single snapshot", func() {
		It("marks every horizon unavailable rather than zero", func() {
			history = data.SnapshotSet{
				filing(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "1000000", "400000", "2000000"),
			}
			trend := analyzer.Analyze(context.Background(), history)

			Expect(trend.QoQ.Available).To(BeFalse())
			Expect(trend.HoH.Available).To(BeFalse())
			Expect(trend.YoY.Available).To(BeFalse())
			Expect(trend.QoQ.NCAVPct).To(BeNil())
			Expect(trend.Improving).To(BeNil())
			Expect(trend.Action1Y).To(Equal(valuation.ActionUnavailable))
			Expect(trend.Action3Y).To(Equal(valuation.ActionUnavailable))
			Expect(trend.NCAVSlope).To(BeNil())
		})
	})

	Context("with a restated filing in the history", func() {
		It("compares against the authoritative record only", func() {
			restated := filing(time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC), "800000", "400000", "1900000")
			restated.FetchedAt = time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
			history = append(history, restated)
			history.Sort()

			trend := analyzer.Analyze(context.Background(), history)
			// YoY base is the restated 400000, not the original 500000
			Expect(*trend.YoY.NCAVPct).To(BeNumerically("~", 200000.0/400000.0, 1e-9))
		})
	})

	Context("with snapshots missing balance sheet fields", func() {
		It("leaves the NCAV delta nil but keeps the share delta", func() {
			history = data.SnapshotSet{
				filing(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "1000000", "400000", "2000000"),
				{
					Ticker:     "OP.US",
					FilingDate: time.Date(2022, 3, 31, 0, 0, 0, 0, time.UTC),
					Currency:   "USD",
					SharesOut:  dec("1900000"),
					Source:     "test",
					FetchedAt:  time.Date(2023, 5, 1, 0, 0, 0, 0, time.UTC),
				},
			}
			trend := analyzer.Analyze(context.Background(), history)
			Expect(trend.YoY.Available).To(BeTrue())
			Expect(trend.YoY.NCAVPct).To(BeNil())
			Expect(*trend.YoY.SharesPct).To(BeNumerically("~", 100000.0/1900000.0, 1e-9))
		})
	})
})
