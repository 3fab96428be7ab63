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

package fx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var (
	ErrUnavailable = errors.New("fx rate unavailable")
)

var exchangeRateHostAPI = "https://api.exchangerate.host"

type rateTableResponse struct {
	Base  string             `json:"base"`
	Date  string             `json:"date"`
	Rates map[string]float64 `json:"rates"`
}

// rateTable is one day's quote table. Fallback marks a table substituted
// from fx.fallback_rates after an upstream failure; every quote served from
// it must surface as stale downstream.
type rateTable struct {
	rates    map[string]decimal.Decimal
	fallback bool
}

// ExchangeRateHost quotes rates from an exchangerate.host compatible endpoint.
// Tables are requested with base=USD and cached per date; a static fallback
// table may be configured under fx.fallback_rates (units per USD).
type ExchangeRateHost struct {
	client *http.Client
	tables map[string]rateTable
	locker sync.RWMutex
}

func NewExchangeRateHost() *ExchangeRateHost {
	return &ExchangeRateHost{
		client: &http.Client{Timeout: 30 * time.Second},
		tables: make(map[string]rateTable, 5),
	}
}

// Lookup returns the from -> to rate for the requested date. Quotes of
// 1 unit of `from` are expressed in `to`; the second return is true when the
// quote came from the fallback table rather than a live fetch.
func (source *ExchangeRateHost) Lookup(ctx context.Context, from, to string, asOf time.Time) (decimal.Decimal, bool, error) {
	table, err := source.tableFor(ctx, asOf)
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	fromQuote, ok := table.rates[from]
	if !ok || fromQuote.IsZero() {
		return decimal.Decimal{}, false, ErrUnavailable
	}

	toQuote, ok := table.rates[to]
	if !ok || toQuote.IsZero() {
		return decimal.Decimal{}, false, ErrUnavailable
	}

	// quotes are units-per-USD; from -> to crosses the base implicitly
	return toQuote.Div(fromQuote), table.fallback, nil
}

func (source *ExchangeRateHost) tableFor(ctx context.Context, asOf time.Time) (rateTable, error) {
	dateStr := asOf.Format("2006-01-02")

	source.locker.RLock()
	table, ok := source.tables[dateStr]
	source.locker.RUnlock()

	if ok {
		return table, nil
	}

	subLog := log.With().Str("Date", dateStr).Logger()

	rates, err := source.fetchTable(ctx, dateStr)
	table = rateTable{rates: rates}
	if err != nil {
		subLog.Warn().Err(err).Msg("could not fetch fx rate table")
		table = rateTable{rates: fallbackTable(), fallback: true}
		if table.rates == nil {
			return rateTable{}, ErrUnavailable
		}
		subLog.Warn().Msg("using configured fx fallback table")
	}

	source.locker.Lock()
	source.tables[dateStr] = table
	source.locker.Unlock()

	return table, nil
}

func (source *ExchangeRateHost) fetchTable(ctx context.Context, dateStr string) (map[string]decimal.Decimal, error) {
	url := fmt.Sprintf("%s/%s?base=%s", exchangeRateHostAPI, dateStr, BaseCurrency)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := source.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request returned invalid status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	jsonResp := rateTableResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		return nil, err
	}

	if len(jsonResp.Rates) == 0 {
		return nil, ErrUnavailable
	}

	table := make(map[string]decimal.Decimal, len(jsonResp.Rates)+1)
	for ccy, quote := range jsonResp.Rates {
		if quote <= 0 {
			continue
		}
		table[Normalize(ccy)] = decimal.NewFromFloat(quote)
	}
	table[BaseCurrency] = decimal.NewFromInt(1)

	return table, nil
}

func fallbackTable() map[string]decimal.Decimal {
	raw := viper.GetStringMapString("fx.fallback_rates")
	if len(raw) == 0 {
		return nil
	}

	table := make(map[string]decimal.Decimal, len(raw)+1)
	for ccy, quote := range raw {
		val, err := decimal.NewFromString(quote)
		if err != nil || val.IsZero() {
			continue
		}
		table[Normalize(ccy)] = val
	}
	table[BaseCurrency] = decimal.NewFromInt(1)

	return table
}
