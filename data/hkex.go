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
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

var hkexFundamentalsAPI = "https://screener-data.penny-vault.app/hkex/financials"

// hkexAdapter serves the HK market. Fundamentals come from the HKEX filing
// extraction service; insider activity from the SDI (disclosure of interests)
// scan service when one is configured.
type hkexAdapter struct {
	client *http.Client
	yahoo  *yahooPriceClient
}

func NewHKEXAdapter() MarketAdapter {
	return &hkexAdapter{
		client: &http.Client{Timeout: 30 * time.Second},
		yahoo:  newYahooPriceClient(),
	}
}

func (hkex *hkexAdapter) Market() string {
	return "HK"
}

// hkexStockCode maps a house ticker like "0591.HK" onto the bare exchange
// stock code.
func hkexStockCode(ticker string) string {
	return strings.TrimSuffix(strings.ToUpper(ticker), ".HK")
}

type hkexFiling struct {
	FilingDate         string   `json:"filingDate"`
	Currency           string   `json:"currency"`
	CurrentAssets      *float64 `json:"currentAssets"`
	TotalAssets        *float64 `json:"totalAssets"`
	TotalLiabilities   *float64 `json:"totalLiabilities"`
	CurrentLiabilities *float64 `json:"currentLiabilities"`
	Cash               *float64 `json:"cash"`
	Equity             *float64 `json:"equity"`
	SharesOut          *float64 `json:"sharesOut"`
}

type hkexFinancialsResponse struct {
	StockCode string       `json:"stockCode"`
	Filings   []hkexFiling `json:"filings"`
}

func (hkex *hkexAdapter) FetchFundamentals(ctx context.Context, company *Company) (SnapshotSet, error) {
	subLog := log.With().Str("Ticker", company.Ticker).Logger()

	url := fmt.Sprintf("%s/%s.json", hkexFundamentalsAPI, hkexStockCode(company.Ticker))
	body, err := hkex.get(ctx, url)
	if err != nil {
		subLog.Warn().Err(err).Msg("hkex financials request failed")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: err}
	}

	jsonResp := hkexFinancialsResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal hkex financials json")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: ErrMalformedResponse}
	}

	fetchedAt := time.Now().UTC()
	set := make(SnapshotSet, 0, len(jsonResp.Filings))
	for _, filing := range jsonResp.Filings {
		filingDate, err := time.Parse("2006-01-02", filing.FilingDate)
		if err != nil {
			subLog.Warn().Str("FilingDate", filing.FilingDate).Msg("skipping filing with bad date")
			continue
		}

		currency := strings.ToUpper(filing.Currency)
		if currency == "" {
			currency = "HKD"
		}

		snapshot := &FinancialSnapshot{
			Ticker:             company.Ticker,
			FilingDate:         filingDate,
			Currency:           currency,
			CurrentAssets:      toDecimal(filing.CurrentAssets),
			TotalAssets:        toDecimal(filing.TotalAssets),
			TotalLiabilities:   toDecimal(filing.TotalLiabilities),
			CurrentLiabilities: toDecimal(filing.CurrentLiabilities),
			Cash:               toDecimal(filing.Cash),
			Equity:             toDecimal(filing.Equity),
			SharesOut:          toDecimal(filing.SharesOut),
			Source:             "hkex",
			FetchedAt:          fetchedAt,
		}
		set = append(set, snapshot)
	}

	if len(set) == 0 {
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: ErrNoData}
	}

	set.Sort()
	return set, nil
}

func (hkex *hkexAdapter) FetchPrice(ctx context.Context, company *Company) (*PriceQuote, error) {
	quote, err := hkex.yahoo.LatestClose(ctx, company)
	if err != nil {
		return nil, &FetchError{Ticker: company.Ticker, Kind: "price", Err: err}
	}
	return quote, nil
}

func (hkex *hkexAdapter) FetchInsiders(ctx context.Context, company *Company) ([]*InsiderTransaction, error) {
	scanURL := viper.GetString("hkex.insider_url")
	if scanURL == "" {
		log.Debug().Str("Ticker", company.Ticker).Msg("no SDI scan service configured")
		return []*InsiderTransaction{}, nil
	}

	subLog := log.With().Str("Ticker", company.Ticker).Logger()

	url := fmt.Sprintf("%s/%s", scanURL, hkexStockCode(company.Ticker))
	body, err := hkex.get(ctx, url)
	if err != nil {
		subLog.Warn().Err(err).Msg("SDI scan request failed")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindInsider, Err: err}
	}

	jsonResp := insiderScanResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal SDI json")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindInsider, Err: ErrMalformedResponse}
	}

	txns := make([]*InsiderTransaction, 0, len(jsonResp.Transactions))
	for _, raw := range jsonResp.Transactions {
		date, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			subLog.Warn().Str("Date", raw.Date).Msg("skipping SDI record with bad date")
			continue
		}

		side := TxnSide(strings.ToLower(raw.Side))
		if side != TxnBuy && side != TxnSell {
			continue
		}

		txn := &InsiderTransaction{
			Ticker: company.Ticker,
			Date:   date,
			Side:   side,
			Shares: decimal.NewFromFloat(raw.Shares),
		}
		if raw.Value != nil {
			val := decimal.NewFromFloat(*raw.Value)
			txn.Value = &val
		}
		txns = append(txns, txn)
	}

	sort.Slice(txns, func(i, j int) bool { return txns[i].Date.After(txns[j].Date) })
	return txns, nil
}

func (hkex *hkexAdapter) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := hkex.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request returned invalid status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

func toDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
