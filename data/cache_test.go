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

package data_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/kvstore"
	"github.com/shopspring/decimal"
)

// fakeAdapter serves canned responses and counts upstream calls.
type fakeAdapter struct {
	market    string
	snapshots data.SnapshotSet
	txns      []*data.InsiderTransaction
	err       error
	delay     time.Duration

	fundamentalCalls int32
	insiderCalls     int32
}

func (adapter *fakeAdapter) Market() string {
	return adapter.market
}

func (adapter *fakeAdapter) FetchFundamentals(_ context.Context, _ *data.Company) (data.SnapshotSet, error) {
	atomic.AddInt32(&adapter.fundamentalCalls, 1)
	if adapter.delay > 0 {
		time.Sleep(adapter.delay)
	}
	if adapter.err != nil {
		return nil, adapter.err
	}
	return adapter.snapshots, nil
}

func (adapter *fakeAdapter) FetchPrice(_ context.Context, company *data.Company) (*data.PriceQuote, error) {
	return &data.PriceQuote{
		Ticker:   company.Ticker,
		Price:    decimal.RequireFromString("0.18"),
		Currency: "USD",
		AsOf:     time.Date(2023, 1, 3, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (adapter *fakeAdapter) FetchInsiders(_ context.Context, _ *data.Company) ([]*data.InsiderTransaction, error) {
	atomic.AddInt32(&adapter.insiderCalls, 1)
	if adapter.err != nil {
		return nil, adapter.err
	}
	return adapter.txns, nil
}

// failingStore reads normally but rejects every write.
type failingStore struct {
	*kvstore.MemoryStore
}

func (store *failingStore) Set(_ context.Context, _ string, _ []byte) error {
	return errors.New("disk full")
}

func dec(val string) *decimal.Decimal {
	d := decimal.RequireFromString(val)
	return &d
}

func snapshotOn(ticker string, filed time.Time, ncavAssets, liabilities, shares string) *data.FinancialSnapshot {
	return &data.FinancialSnapshot{
		Ticker:           ticker,
		FilingDate:       filed,
		Currency:         "USD",
		CurrentAssets:    dec(ncavAssets),
		TotalLiabilities: dec(liabilities),
		SharesOut:        dec(shares),
		Source:           "test",
		FetchedAt:        time.Now().UTC(),
	}
}

var _ = Describe("Cache", func() {
	var (
		adapter  *fakeAdapter
		cache    *data.Cache
		company  *data.Company
		registry *data.AdapterRegistry
		store    *kvstore.MemoryStore
	)

	BeforeEach(func() {
		company = &data.Company{Ticker: "OP.US", Market: "US", ListingCurrency: "USD"}
		adapter = &fakeAdapter{
			market: "US",
			snapshots: data.SnapshotSet{
				snapshotOn("OP.US", time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC), "1000000", "400000", "2000000"),
				snapshotOn("OP.US", time.Date(2022, 12, 31, 0, 0, 0, 0, time.UTC), "900000", "420000", "2000000"),
			},
		}
		registry = data.NewAdapterRegistry()
		registry.Register(adapter)
		store = kvstore.NewMemoryStore()
		cache = data.NewCache(store, registry, data.DefaultMarkets())
	})

	Context("with an empty store", func() {
		It("fetches from the adapter and persists the result", func() {
			snapshots, degraded, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeFalse())
			Expect(snapshots).To(HaveLen(2))
			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))

			keys, err := store.Keys(context.Background(), "fundamentals:")
			Expect(err).To(BeNil())
			Expect(keys).To(ContainElement("fundamentals:US:OP.US"))
		})

		It("serves the second read from cache without a fetch", func() {
			_, _, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			_, _, err = cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))
		})

		It("propagates a fetch failure when nothing is cached", func() {
			adapter.err = errors.New("upstream down")
			_, _, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(HaveOccurred())
		})

		It("fails for an unregistered market", func() {
			company.Market = "JP"
			_, _, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(MatchError(data.ErrUnknownMarket))
		})
	})

	Context("with a stale cached record", func() {
		staleEnvelope := []byte(`{"snapshots":[{"ticker":"OP.US","filingDate":"2022-06-30T00:00:00Z","currency":"USD","currentAssets":"800000","totalLiabilities":"500000","sharesOut":"2000000","source":"test","fetchedAt":"2022-07-15T00:00:00Z"}],"lastRefreshed":"2022-07-15T00:00:00Z"}`)

		BeforeEach(func() {
			err := store.Set(context.Background(), "fundamentals:US:OP.US", staleEnvelope)
			Expect(err).To(BeNil())
		})

		It("refreshes and appends the new snapshots", func() {
			snapshots, degraded, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeFalse())
			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))
			// 1 cached + 2 fetched, newest first
			Expect(snapshots).To(HaveLen(3))
			Expect(snapshots.Latest().FilingDate).To(Equal(time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC)))
		})

		It("keeps the old record in the audit trail when a filing is restated", func() {
			restated := snapshotOn("OP.US", time.Date(2022, 6, 30, 0, 0, 0, 0, time.UTC), "750000", "500000", "2000000")
			adapter.snapshots = data.SnapshotSet{restated}

			snapshots, _, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(snapshots).To(HaveLen(2), "restatement appends, never overwrites")

			authoritative := snapshots.Authoritative()
			Expect(authoritative).To(HaveLen(1))
			Expect(authoritative.Latest().CurrentAssets.Equal(decimal.RequireFromString("750000"))).To(BeTrue(),
				"most recently fetched record wins")
		})

		It("serves the cached record degraded when the refresh fails", func() {
			adapter.err = errors.New("upstream down")
			snapshots, degraded, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeTrue())
			Expect(snapshots).To(HaveLen(1))
			Expect(snapshots.Latest().CurrentAssets.Equal(decimal.RequireFromString("800000"))).To(BeTrue())
		})

		It("does not retry a failed fetch within the same run", func() {
			adapter.err = errors.New("upstream down")
			_, _, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			_, _, err = cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))
		})

		It("rejects a snapshot filed after it was fetched", func() {
			bogus := snapshotOn("OP.US", time.Now().UTC().Add(365*24*time.Hour), "1", "1", "1")
			adapter.snapshots = data.SnapshotSet{bogus}
			snapshots, degraded, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil(), "invalid refresh degrades to the cached record")
			Expect(degraded).To(BeTrue())
			Expect(snapshots).To(HaveLen(1))
		})
	})

	Context("with a store that rejects writes", func() {
		It("serves later reads from the fetched data without refetching", func() {
			broken := &failingStore{MemoryStore: store}
			cache = data.NewCache(broken, registry, data.DefaultMarkets())

			snapshots, degraded, err := cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeFalse())
			Expect(snapshots).To(HaveLen(2))

			snapshots, degraded, err = cache.Fundamentals(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeFalse())
			Expect(snapshots).To(HaveLen(2))
			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))
		})
	})

	Context("with concurrent requests for the same key", func() {
		It("issues a single upstream fetch", func() {
			adapter.delay = 50 * time.Millisecond

			var wg sync.WaitGroup
			for ii := 0; ii < 8; ii++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					snapshots, _, err := cache.Fundamentals(context.Background(), company)
					Expect(err).To(BeNil())
					Expect(snapshots).NotTo(BeEmpty())
				}()
			}
			wg.Wait()

			Expect(adapter.fundamentalCalls).To(BeEquivalentTo(1))
		})
	})

	Context("with insider history", func() {
		BeforeEach(func() {
			adapter.txns = []*data.InsiderTransaction{
				{
					Ticker: "OP.US",
					Date:   time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC),
					Side:   data.TxnBuy,
					Shares: decimal.NewFromInt(10_000),
				},
			}
		})

		It("fetches and caches the transaction batch", func() {
			txns, degraded, err := cache.Insiders(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(degraded).To(BeFalse())
			Expect(txns).To(HaveLen(1))

			_, _, err = cache.Insiders(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(adapter.insiderCalls).To(BeEquivalentTo(1))
		})

		It("caches an empty batch like any other", func() {
			adapter.txns = []*data.InsiderTransaction{}
			txns, _, err := cache.Insiders(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(txns).To(BeEmpty())
			_, _, err = cache.Insiders(context.Background(), company)
			Expect(err).To(BeNil())
			Expect(adapter.insiderCalls).To(BeEquivalentTo(1))
		})
	})
})
