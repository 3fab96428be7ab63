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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var yahooChartAPI = "https://query1.finance.yahoo.com/v8/finance/chart"

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency           string  `json:"currency"`
				Symbol             string  `json:"symbol"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// yahooPriceClient retrieves the latest close for a symbol from the yahoo
// chart endpoint. Both market adapters delegate their price fetch here.
type yahooPriceClient struct {
	client *http.Client
}

func newYahooPriceClient() *yahooPriceClient {
	return &yahooPriceClient{
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// yahooSymbol maps a house ticker onto the yahoo quote symbol. US tickers
// drop the market suffix; other markets keep it.
func yahooSymbol(ticker string) string {
	if strings.HasSuffix(strings.ToUpper(ticker), ".US") {
		return ticker[:len(ticker)-3]
	}
	return ticker
}

func (yahoo *yahooPriceClient) LatestClose(ctx context.Context, company *Company) (*PriceQuote, error) {
	symbol := yahooSymbol(company.Ticker)
	subLog := log.With().Str("Ticker", company.Ticker).Str("Symbol", symbol).Logger()

	url := fmt.Sprintf("%s/%s?interval=1d&range=5d", yahooChartAPI, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := yahoo.client.Do(req)
	if err != nil {
		subLog.Warn().Err(err).Msg("failed to load latest price")
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		subLog.Warn().Int("HTTPResponseStatusCode", resp.StatusCode).Msg("price request failed")
		return nil, fmt.Errorf("HTTP request returned invalid status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	jsonResp := yahooChartResponse{}
	if err := json.Unmarshal(body, &jsonResp); err != nil {
		subLog.Error().Err(err).Msg("could not unmarshal json")
		return nil, ErrMalformedResponse
	}

	if jsonResp.Chart.Error != nil {
		subLog.Warn().Str("UpstreamCode", jsonResp.Chart.Error.Code).Msg("quote endpoint returned error")
		return nil, ErrNoData
	}

	if len(jsonResp.Chart.Result) == 0 {
		return nil, ErrNoData
	}

	meta := jsonResp.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 || meta.Currency == "" {
		return nil, ErrMalformedResponse
	}

	return &PriceQuote{
		Ticker:   company.Ticker,
		Price:    decimal.NewFromFloat(meta.RegularMarketPrice),
		Currency: strings.ToUpper(meta.Currency),
		AsOf:     time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}
