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
)

// MarketAdapter fetches raw price and fundamentals data for a ticker from
// one market's upstream source. One concrete adapter exists per market; the
// registry maps market codes to adapter instances at startup.
type MarketAdapter interface {
	Market() string
	FetchFundamentals(ctx context.Context, company *Company) (SnapshotSet, error)
	FetchPrice(ctx context.Context, company *Company) (*PriceQuote, error)
	FetchInsiders(ctx context.Context, company *Company) ([]*InsiderTransaction, error)
}

// AdapterRegistry holds the market -> adapter mapping. Resolution is by
// market code only.
type AdapterRegistry struct {
	adapters map[string]MarketAdapter
}

func NewAdapterRegistry() *AdapterRegistry {
	return &AdapterRegistry{
		adapters: make(map[string]MarketAdapter, 5),
	}
}

// Register adds an adapter to the registry, replacing any previous adapter
// for the same market.
func (registry *AdapterRegistry) Register(adapter MarketAdapter) {
	registry.adapters[adapter.Market()] = adapter
}

// ForMarket resolves the adapter serving the given market code.
func (registry *AdapterRegistry) ForMarket(market string) (MarketAdapter, error) {
	adapter, ok := registry.adapters[market]
	if !ok {
		return nil, ErrUnknownMarket
	}
	return adapter, nil
}

// Markets lists registered market codes.
func (registry *AdapterRegistry) Markets() []string {
	markets := make([]string, 0, len(registry.adapters))
	for code := range registry.adapters {
		markets = append(markets, code)
	}
	return markets
}
