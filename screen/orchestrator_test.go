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

package screen_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/fx"
	"github.com/penny-vault/ncav-screener/kvstore"
	"github.com/penny-vault/ncav-screener/screen"
	"github.com/penny-vault/ncav-screener/valuation"
	"github.com/shopspring/decimal"
)

type emptySource struct{}

func (emptySource) Lookup(_ context.Context, _, _ string, _ time.Time) (decimal.Decimal, bool, error) {
	return decimal.Decimal{}, false, fx.ErrUnavailable
}

// stubAdapter serves canned per-ticker fixtures for one market.
type stubAdapter struct {
	market       string
	fundamentals map[string]data.SnapshotSet
	prices       map[string]*data.PriceQuote
	failTickers  map[string]bool
}

func (adapter *stubAdapter) Market() string {
	return adapter.market
}

func (adapter *stubAdapter) FetchFundamentals(_ context.Context, company *data.Company) (data.SnapshotSet, error) {
	if adapter.failTickers[company.Ticker] {
		return nil, errors.New("upstream down")
	}
	set, ok := adapter.fundamentals[company.Ticker]
	if !ok {
		return nil, data.ErrNoData
	}
	return set, nil
}

func (adapter *stubAdapter) FetchPrice(_ context.Context, company *data.Company) (*data.PriceQuote, error) {
	quote, ok := adapter.prices[company.Ticker]
	if !ok {
		return nil, data.ErrNoData
	}
	return quote, nil
}

func (adapter *stubAdapter) FetchInsiders(_ context.Context, _ *data.Company) ([]*data.InsiderTransaction, error) {
	return []*data.InsiderTransaction{}, nil
}

func dec(val string) *decimal.Decimal {
	d := decimal.RequireFromString(val)
	return &d
}

func recentFiling(ticker string, currentAssets, liabilities, shares string) data.SnapshotSet {
	return data.SnapshotSet{
		&data.FinancialSnapshot{
			Ticker:           ticker,
			FilingDate:       time.Now().UTC().Add(-30 * 24 * time.Hour),
			Currency:         "USD",
			CurrentAssets:    dec(currentAssets),
			TotalLiabilities: dec(liabilities),
			SharesOut:        dec(shares),
			Source:           "test",
			FetchedAt:        time.Now().UTC(),
		},
	}
}

func usd(price string) *data.PriceQuote {
	return &data.PriceQuote{
		Price:    decimal.RequireFromString(price),
		Currency: "USD",
		AsOf:     time.Now().UTC(),
	}
}

var _ = Describe("Orchestrator", func() {
	var (
		adapter   *stubAdapter
		companies []*data.Company
		store     *kvstore.MemoryStore
	)

	newOrchestrator := func() *screen.Orchestrator {
		registry := data.NewAdapterRegistry()
		registry.Register(adapter)
		markets := data.DefaultMarkets()
		cache := data.NewCache(store, registry, markets)
		resolver := fx.NewResolver(emptySource{})
		return screen.NewOrchestrator(cache, registry, markets,
			valuation.NewCalculator(resolver, "USD"), valuation.NewAnalyzer(resolver))
	}

	BeforeEach(func() {
		store = kvstore.NewMemoryStore()
		adapter = &stubAdapter{
			market: "US",
			fundamentals: map[string]data.SnapshotSet{
				"AA.US": recentFiling("AA.US", "1000000", "400000", "2000000"),
				"CC.US": {
					&data.FinancialSnapshot{
						Ticker:           "CC.US",
						FilingDate:       time.Now().UTC().Add(-30 * 24 * time.Hour),
						Currency:         "USD",
						CurrentAssets:    dec("500000"),
						TotalLiabilities: dec("100000"),
						Source:           "test",
						FetchedAt:        time.Now().UTC(),
					},
				},
			},
			prices: map[string]*data.PriceQuote{
				"AA.US": usd("0.18"),
				"BB.US": usd("1.00"),
				"CC.US": usd("1.00"),
			},
			failTickers: map[string]bool{"BB.US": true},
		}
		companies = []*data.Company{
			{Ticker: "CC.US", Market: "US", ListingCurrency: "USD"},
			{Ticker: "AA.US", Market: "US", ListingCurrency: "USD"},
			{Ticker: "BB.US", Market: "US", ListingCurrency: "USD"},
		}
	})

	It("orders results by ticker regardless of completion order", func() {
		report, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())
		Expect(report.Results).To(HaveLen(3))
		Expect(report.Results[0].Ticker).To(Equal("AA.US"))
		Expect(report.Results[1].Ticker).To(Equal("BB.US"))
		Expect(report.Results[2].Ticker).To(Equal("CC.US"))
		Expect(report.RunID).NotTo(BeEmpty())
	})

	It("isolates per-ticker failures from the batch", func() {
		report, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())

		healthy := report.Results[0]
		Expect(healthy.Err).To(BeEmpty())
		Expect(healthy.Metrics).NotTo(BeNil())
		Expect(healthy.GreenFlags).To(ContainElement(valuation.FlagMarginOfSafety))
		Expect(healthy.DataAgeDays).To(Equal(30))

		failed := report.Results[1]
		Expect(failed.Err).NotTo(BeEmpty())
		Expect(failed.Metrics).To(BeNil())
		Expect(failed.GreenFlags).To(BeEmpty())
		Expect(failed.RedFlags).To(BeEmpty())
	})

	It("records a valuation error for a snapshot without a share count", func() {
		report, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())

		missingShares := report.Results[2]
		Expect(missingShares.Err).To(ContainSubstring("sharesOut"))
		Expect(missingShares.Metrics).To(BeNil())
	})

	It("evaluates insiders to a none signal when history is empty", func() {
		report, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())
		Expect(report.Results[0].Insiders.Signal).To(Equal(valuation.SignalNone))
	})

	It("produces identical fingerprints across runs over cached inputs", func() {
		first, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())

		// second run shares the store; every read is a cache hit
		second, err := newOrchestrator().Run(context.Background(), companies)
		Expect(err).To(BeNil())

		firstPrint, err := first.Results[0].Fingerprint()
		Expect(err).To(BeNil())
		secondPrint, err := second.Results[0].Fingerprint()
		Expect(err).To(BeNil())
		Expect(secondPrint).To(Equal(firstPrint))
	})
})
