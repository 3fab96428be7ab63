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

package data

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/ncav-screener/kvstore"
	"github.com/penny-vault/ncav-screener/observability/opentelemetry"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/singleflight"
)

// fundamentalsEnvelope is the persisted cache record for one company's
// fundamentals: the full append-only snapshot history plus the refresh
// watermark staleness is judged against.
type fundamentalsEnvelope struct {
	Snapshots     SnapshotSet `json:"snapshots"`
	LastRefreshed time.Time   `json:"lastRefreshed"`
}

type insiderEnvelope struct {
	Transactions  []*InsiderTransaction `json:"transactions"`
	LastRefreshed time.Time             `json:"lastRefreshed"`
}

// Cache sits between the screen and the market adapters. Reads are served
// from the kvstore when fresh enough for the company's market; a stale or
// missing entry triggers at most one upstream fetch per key per run, with
// concurrent requests for the same key collapsed onto a single flight. When
// a refresh fails and an older record exists, the older record is returned
// and marked degraded rather than failing the ticker.
type Cache struct {
	store    kvstore.Store
	registry *AdapterRegistry
	markets  map[string]MarketConfig

	group     singleflight.Group
	attempted map[string]*fetchOutcome
	locker    sync.Mutex

	clock func() time.Time
}

// fetchOutcome records one key's upstream fetch for the rest of the run.
// Keeping the result, not just the error, lets later callers reuse the data
// even when persisting it to the store failed.
type fetchOutcome struct {
	result any
	err    error
}

func NewCache(store kvstore.Store, registry *AdapterRegistry, markets map[string]MarketConfig) *Cache {
	return &Cache{
		store:     store,
		registry:  registry,
		markets:   markets,
		attempted: make(map[string]*fetchOutcome, 100),
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func cacheKey(kind Kind, company *Company) string {
	return fmt.Sprintf("%s:%s:%s", kind, company.Market, company.Ticker)
}

// Fundamentals returns the snapshot history for a company, refreshing from
// the market adapter when the cached record is older than the market's
// reporting period. The second return is true when the data is degraded: a
// refresh was due but failed and the cached record was used anyway.
func (cache *Cache) Fundamentals(ctx context.Context, company *Company) (SnapshotSet, bool, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "cache.Fundamentals")
	defer span.End()

	key := cacheKey(KindFundamentals, company)
	subLog := log.With().Str("Ticker", company.Ticker).Str("CacheKey", key).Logger()

	envelope := fundamentalsEnvelope{}
	cached := cache.load(ctx, key, &envelope)

	maxAge := cache.fundamentalsMaxAge(company.Market)
	if cached && cache.clock().Sub(envelope.LastRefreshed) < maxAge {
		subLog.Debug().Time("LastRefreshed", envelope.LastRefreshed).Msg("cache hit")
		return envelope.Snapshots, false, nil
	}

	fetched, err := cache.fetchOnce(ctx, key, func(ctx context.Context) (any, error) {
		adapter, err := cache.registry.ForMarket(company.Market)
		if err != nil {
			return nil, err
		}
		return adapter.FetchFundamentals(ctx, company)
	})

	if err != nil {
		if cached {
			subLog.Warn().Err(err).Msg("refresh failed; serving stale fundamentals")
			return envelope.Snapshots, true, nil
		}
		return nil, false, err
	}

	merged, err := mergeSnapshots(envelope.Snapshots, fetched.(SnapshotSet))
	if err != nil {
		if cached {
			subLog.Warn().Err(err).Msg("fetched snapshots invalid; serving cached fundamentals")
			return envelope.Snapshots, true, nil
		}
		return nil, false, err
	}

	envelope.Snapshots = merged
	envelope.LastRefreshed = cache.clock()
	cache.persist(ctx, key, &envelope)

	return envelope.Snapshots, false, nil
}

// Insiders returns the insider transaction history for a company, refreshing
// when the cached record is older than cache.insider_refresh. Degraded
// semantics match Fundamentals.
func (cache *Cache) Insiders(ctx context.Context, company *Company) ([]*InsiderTransaction, bool, error) {
	ctx, span := otel.Tracer(opentelemetry.Name).Start(ctx, "cache.Insiders")
	defer span.End()

	key := cacheKey(KindInsider, company)
	subLog := log.With().Str("Ticker", company.Ticker).Str("CacheKey", key).Logger()

	envelope := insiderEnvelope{}
	cached := cache.load(ctx, key, &envelope)

	maxAge := viper.GetDuration("cache.insider_refresh")
	if maxAge <= 0 {
		maxAge = 168 * time.Hour
	}

	if cached && cache.clock().Sub(envelope.LastRefreshed) < maxAge {
		subLog.Debug().Time("LastRefreshed", envelope.LastRefreshed).Msg("cache hit")
		return envelope.Transactions, false, nil
	}

	fetched, err := cache.fetchOnce(ctx, key, func(ctx context.Context) (any, error) {
		adapter, err := cache.registry.ForMarket(company.Market)
		if err != nil {
			return nil, err
		}
		return adapter.FetchInsiders(ctx, company)
	})

	if err != nil {
		if cached {
			subLog.Warn().Err(err).Msg("refresh failed; serving stale insider data")
			return envelope.Transactions, true, nil
		}
		return nil, false, err
	}

	envelope.Transactions = fetched.([]*InsiderTransaction)
	envelope.LastRefreshed = cache.clock()
	cache.persist(ctx, key, &envelope)

	return envelope.Transactions, false, nil
}

// fetchOnce runs fetch at most once per key for the lifetime of the cache.
// Concurrent callers share a single in-flight request; later callers get the
// recorded outcome without a second upstream hit.
func (cache *Cache) fetchOnce(ctx context.Context, key string, fetch func(ctx context.Context) (any, error)) (any, error) {
	cache.locker.Lock()
	outcome, tried := cache.attempted[key]
	cache.locker.Unlock()
	if tried {
		return outcome.result, outcome.err
	}

	result, err, _ := cache.group.Do(key, func() (any, error) {
		cache.locker.Lock()
		outcome, tried := cache.attempted[key]
		cache.locker.Unlock()
		if tried {
			return outcome.result, outcome.err
		}

		result, err := fetch(ctx)
		cache.locker.Lock()
		cache.attempted[key] = &fetchOutcome{result: result, err: err}
		cache.locker.Unlock()
		return result, err
	})

	return result, err
}

func (cache *Cache) fundamentalsMaxAge(market string) time.Duration {
	if cfg, ok := cache.markets[market]; ok && cfg.ReportingPeriodDays > 0 {
		return cfg.ReportingPeriod()
	}
	return 90 * 24 * time.Hour
}

func (cache *Cache) load(ctx context.Context, key string, out any) bool {
	raw, err := cache.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrKeyNotFound) {
			log.Warn().Err(err).Str("CacheKey", key).Msg("cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, out); err != nil {
		log.Error().Err(err).Str("CacheKey", key).Msg("corrupt cache record; ignoring")
		return false
	}
	return true
}

func (cache *Cache) persist(ctx context.Context, key string, envelope any) {
	raw, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Stack().Err(err).Str("CacheKey", key).Msg("could not marshal cache record")
		return
	}
	if err := cache.store.Set(ctx, key, raw); err != nil {
		// a write failure costs the next run a refetch; this run serves
		// later callers from the recorded fetch outcome
		log.Warn().Err(err).Str("CacheKey", key).Msg("cache write failed")
	}
}

// mergeSnapshots folds freshly fetched snapshots into the cached history.
// History is append-only: a re-filed period (same filing date, different
// figures) is appended rather than overwritten, and Sort puts the newer
// fetch first so it becomes authoritative.
func mergeSnapshots(existing SnapshotSet, fetched SnapshotSet) (SnapshotSet, error) {
	merged := make(SnapshotSet, len(existing), len(existing)+len(fetched))
	copy(merged, existing)

	for _, snapshot := range fetched {
		if snapshot.FilingDate.After(snapshot.FetchedAt) {
			return nil, ErrFilingAfterFetch
		}
		if containsSnapshot(existing, snapshot) {
			continue
		}
		merged = append(merged, snapshot)
	}

	merged.Sort()
	return merged, nil
}

func containsSnapshot(set SnapshotSet, candidate *FinancialSnapshot) bool {
	for _, snapshot := range set {
		if snapshot.FilingDate.Equal(candidate.FilingDate) && sameFigures(snapshot, candidate) {
			return true
		}
	}
	return false
}

func sameFigures(a, b *FinancialSnapshot) bool {
	return a.Currency == b.Currency &&
		decimalPtrEqual(a.CurrentAssets, b.CurrentAssets) &&
		decimalPtrEqual(a.TotalAssets, b.TotalAssets) &&
		decimalPtrEqual(a.TotalLiabilities, b.TotalLiabilities) &&
		decimalPtrEqual(a.CurrentLiabilities, b.CurrentLiabilities) &&
		decimalPtrEqual(a.Cash, b.Cash) &&
		decimalPtrEqual(a.Equity, b.Equity) &&
		decimalPtrEqual(a.SharesOut, b.SharesOut)
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
