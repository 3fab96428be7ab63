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

// Package fx resolves currency conversion rates. All monetary figures in the
// screener carry their currency explicitly; this package is the only place a
// conversion happens.
package fx

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	BaseCurrency = "USD"
)

// Error indicates that no rate could be resolved for a currency pair, not
// even a previously seen one.
type Error struct {
	From string
	To   string
}

func (err *Error) Error() string {
	return fmt.Sprintf("no resolvable fx rate for %s/%s", err.From, err.To)
}

// Source supplies raw rates; returns ErrUnavailable-style errors when a pair
// cannot be quoted for the requested date. The second return reports that the
// quote did not come from a live table for the date (a configured fallback).
type Source interface {
	Lookup(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, bool, error)
}

// Rate is a resolved conversion rate. Stale marks any rate not backed by a
// live quote for its date: a source fallback or a remembered prior rate.
type Rate struct {
	Value decimal.Decimal
	AsOf  time.Time
	Stale bool
}

// Resolver resolves a currency pair to a rate at a point in time. When a
// direct quote is unavailable it crosses through USD; when the source fails
// entirely it falls back to the most recent rate it ever resolved for the
// pair, tagged stale.
type Resolver struct {
	source    Source
	lastKnown map[string]Rate
	locker    sync.RWMutex
}

func NewResolver(source Source) *Resolver {
	return &Resolver{
		source:    source,
		lastKnown: make(map[string]Rate, 20),
	}
}

// Normalize maps vendor currency spellings onto ISO codes; offshore and
// onshore RMB are treated the same for NCAV work.
func Normalize(ccy string) string {
	ccy = strings.ToUpper(strings.TrimSpace(ccy))
	switch ccy {
	case "RMB", "CNH":
		return "CNY"
	}
	return ccy
}

func pairKey(from, to string) string {
	return from + "/" + to
}

// Rate resolves from -> to as of the given date.
func (resolver *Resolver) Rate(ctx context.Context, from, to string, asOf time.Time) (Rate, error) {
	from = Normalize(from)
	to = Normalize(to)

	if from == "" || to == "" {
		return Rate{}, &Error{From: from, To: to}
	}

	if from == to {
		return Rate{Value: decimal.NewFromInt(1), AsOf: asOf}, nil
	}

	subLog := log.With().Str("From", from).Str("To", to).Time("AsOf", asOf).Logger()

	if rate, err := resolver.resolve(ctx, from, to, asOf); err == nil {
		resolver.remember(from, to, rate)
		return rate, nil
	}

	// live resolution failed; use the most recent rate seen for the pair
	resolver.locker.RLock()
	prev, ok := resolver.lastKnown[pairKey(from, to)]
	resolver.locker.RUnlock()

	if ok {
		subLog.Warn().Time("PrevAsOf", prev.AsOf).Msg("fx source unavailable; using last known rate")
		prev.Stale = true
		return prev, nil
	}

	subLog.Error().Msg("fx rate never resolved for pair")
	return Rate{}, &Error{From: from, To: to}
}

func (resolver *Resolver) resolve(ctx context.Context, from, to string, asOf time.Time) (Rate, error) {
	if val, fallback, err := resolver.source.Lookup(ctx, from, to, asOf); err == nil {
		return Rate{Value: val, AsOf: asOf, Stale: fallback}, nil
	}

	// cross through USD
	fromUSD, fromFallback, err := resolver.source.Lookup(ctx, from, BaseCurrency, asOf)
	if err != nil {
		return Rate{}, err
	}

	if to == BaseCurrency {
		return Rate{Value: fromUSD, AsOf: asOf, Stale: fromFallback}, nil
	}

	usdTo, toFallback, err := resolver.source.Lookup(ctx, BaseCurrency, to, asOf)
	if err != nil {
		return Rate{}, err
	}

	return Rate{Value: fromUSD.Mul(usdTo), AsOf: asOf, Stale: fromFallback || toFallback}, nil
}

func (resolver *Resolver) remember(from, to string, rate Rate) {
	resolver.locker.Lock()
	resolver.lastKnown[pairKey(from, to)] = rate
	resolver.locker.Unlock()
}

// Convert applies the rate for (from -> to, asOf) to an amount.
func (resolver *Resolver) Convert(ctx context.Context, amount decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, bool, error) {
	rate, err := resolver.Rate(ctx, from, to, asOf)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return amount.Mul(rate.Value), rate.Stale, nil
}
