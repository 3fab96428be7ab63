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

var secAPI = "https://data.sec.gov"

// secAdapter serves the US market from the SEC XBRL companyfacts API.
// Insider activity comes from the Form 4 scan job's output service when one
// is configured.
type secAdapter struct {
	client *http.Client
	yahoo  *yahooPriceClient
}

func NewSECAdapter() MarketAdapter {
	return &secAdapter{
		client: &http.Client{Timeout: 30 * time.Second},
		yahoo:  newYahooPriceClient(),
	}
}

func (sec *secAdapter) Market() string {
	return "US"
}

type secFactEntry struct {
	End   string  `json:"end"`
	Val   float64 `json:"val"`
	Form  string  `json:"form"`
	Filed string  `json:"filed"`
}

type secFact struct {
	Units map[string][]secFactEntry `json:"units"`
}

type companyFactsResponse struct {
	CIK        int    `json:"cik"`
	EntityName string `json:"entityName"`
	Facts      struct {
		UsGaap map[string]secFact `json:"us-gaap"`
		Dei    map[string]secFact `json:"dei"`
	} `json:"facts"`
}

// balance sheet concepts pulled from companyfacts, keyed by the snapshot
// field they populate
var secConcepts = map[string]string{
	"AssetsCurrent":      "currentAssets",
	"Assets":             "totalAssets",
	"Liabilities":        "totalLiabilities",
	"LiabilitiesCurrent": "currentLiabilities",
	"CashAndCashEquivalentsAtCarryingValue": "cash",
	"StockholdersEquity":                    "equity",
}

func (sec *secAdapter) FetchFundamentals(ctx context.Context, company *Company) (SnapshotSet, error) {
	if company.CIK == "" {
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: ErrNotFound}
	}

	subLog := log.With().Str("Ticker", company.Ticker).Str("CIK", company.CIK).Logger()

	url := fmt.Sprintf("%s/api/xbrl/companyfacts/CIK%010s.json", secAPI, company.CIK)
	body, err := sec.get(ctx, url)
	if err != nil {
		subLog.Warn().Err(err).Msg("companyfacts request failed")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: err}
	}

	jsonResp := companyFactsResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal companyfacts json")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: ErrMalformedResponse}
	}

	fetchedAt := time.Now().UTC()
	byDate := make(map[string]*FinancialSnapshot, 20)

	snapshotFor := func(end string) *FinancialSnapshot {
		if snapshot, ok := byDate[end]; ok {
			return snapshot
		}
		filingDate, err := time.Parse("2006-01-02", end)
		if err != nil {
			return nil
		}
		snapshot := &FinancialSnapshot{
			Ticker:     company.Ticker,
			FilingDate: filingDate,
			Currency:   "USD",
			Source:     "sec",
			FetchedAt:  fetchedAt,
		}
		byDate[end] = snapshot
		return snapshot
	}

	for concept, field := range secConcepts {
		fact, ok := jsonResp.Facts.UsGaap[concept]
		if !ok {
			continue
		}
		for _, entry := range fact.Units["USD"] {
			snapshot := snapshotFor(entry.End)
			if snapshot == nil {
				continue
			}
			val := decimal.NewFromFloat(entry.Val)
			switch field {
			case "currentAssets":
				snapshot.CurrentAssets = &val
			case "totalAssets":
				snapshot.TotalAssets = &val
			case "totalLiabilities":
				snapshot.TotalLiabilities = &val
			case "currentLiabilities":
				snapshot.CurrentLiabilities = &val
			case "cash":
				snapshot.Cash = &val
			case "equity":
				snapshot.Equity = &val
			}
		}
	}

	if shares, ok := jsonResp.Facts.Dei["EntityCommonStockSharesOutstanding"]; ok {
		for _, entry := range shares.Units["shares"] {
			snapshot := snapshotFor(entry.End)
			if snapshot == nil {
				continue
			}
			val := decimal.NewFromFloat(entry.Val)
			snapshot.SharesOut = &val
		}
	}

	set := make(SnapshotSet, 0, len(byDate))
	for _, snapshot := range byDate {
		// periods with no balance sheet at all are filing noise (cover
		// pages report shares on non-period dates)
		if snapshot.TotalLiabilities == nil && snapshot.CurrentAssets == nil && snapshot.TotalAssets == nil {
			continue
		}
		set = append(set, snapshot)
	}

	if len(set) == 0 {
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindFundamentals, Err: ErrNoData}
	}

	set.Sort()
	return set, nil
}

func (sec *secAdapter) FetchPrice(ctx context.Context, company *Company) (*PriceQuote, error) {
	quote, err := sec.yahoo.LatestClose(ctx, company)
	if err != nil {
		return nil, &FetchError{Ticker: company.Ticker, Kind: "price", Err: err}
	}
	return quote, nil
}

type insiderScanResponse struct {
	Ticker       string `json:"ticker"`
	Transactions []struct {
		Date   string   `json:"date"`
		Side   string   `json:"side"`
		Shares float64  `json:"shares"`
		Value  *float64 `json:"value"`
	} `json:"transactions"`
}

func (sec *secAdapter) FetchInsiders(ctx context.Context, company *Company) ([]*InsiderTransaction, error) {
	scanURL := viper.GetString("sec.insider_url")
	if scanURL == "" {
		// no Form 4 scan service configured; sparse insider data is
		// expected, not exceptional
		log.Debug().Str("Ticker", company.Ticker).Msg("no insider scan service configured")
		return []*InsiderTransaction{}, nil
	}

	subLog := log.With().Str("Ticker", company.Ticker).Logger()

	url := fmt.Sprintf("%s/%s?days_back=%d", scanURL, yahooSymbol(company.Ticker), viper.GetInt("sec.insider_days_back"))
	body, err := sec.get(ctx, url)
	if err != nil {
		subLog.Warn().Err(err).Msg("insider scan request failed")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindInsider, Err: err}
	}

	jsonResp := insiderScanResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal insider json")
		return nil, &FetchError{Ticker: company.Ticker, Kind: KindInsider, Err: ErrMalformedResponse}
	}

	txns := make([]*InsiderTransaction, 0, len(jsonResp.Transactions))
	for _, raw := range jsonResp.Transactions {
		date, err := time.Parse("2006-01-02", raw.Date)
		if err != nil {
			subLog.Warn().Str("Date", raw.Date).Msg("skipping insider record with bad date")
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

func (sec *secAdapter) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	// EDGAR requires a descriptive user agent
	if ua := viper.GetString("sec.user_agent"); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := sec.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP request returned invalid status code: %d", resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}
