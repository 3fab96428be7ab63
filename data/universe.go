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
	"sort"
	"strings"

	"github.com/penny-vault/ncav-screener/database"
	"github.com/rs/zerolog/log"
)

// LoadUniverse reads the screening universe from the companies table,
// optionally restricted to a set of markets. Tickers are returned in
// lexical order.
func LoadUniverse(ctx context.Context, db database.Queryable, markets []string) ([]*Company, error) {
	sql := `SELECT ticker, name, market, cik, exchange, listing_currency, sector, industry FROM companies WHERE active='t'`
	args := make([]interface{}, 0, 1)
	if len(markets) > 0 {
		sql += ` AND market = ANY($1)`
		args = append(args, markets)
	}

	rows, err := db.Query(ctx, sql, args...)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query companies table")
		return nil, err
	}
	defer rows.Close()

	companies := make([]*Company, 0, 100)
	for rows.Next() {
		company := &Company{}
		err := rows.Scan(&company.Ticker, &company.Name, &company.Market,
			&company.CIK, &company.Exchange, &company.ListingCurrency,
			&company.Sector, &company.Industry)
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not scan company row")
			return nil, err
		}
		companies = append(companies, company)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(companies, func(i, j int) bool {
		return companies[i].Ticker < companies[j].Ticker
	})
	return companies, nil
}

// LookupCompanies resolves an explicit ticker shortlist against the
// companies table. Unknown tickers are logged and skipped; the screen runs
// with what resolved.
func LookupCompanies(ctx context.Context, db database.Queryable, tickers []string) ([]*Company, error) {
	normalized := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		normalized = append(normalized, strings.ToUpper(strings.TrimSpace(ticker)))
	}

	sql := `SELECT ticker, name, market, cik, exchange, listing_currency, sector, industry FROM companies WHERE ticker = ANY($1)`
	rows, err := db.Query(ctx, sql, normalized)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not query companies table")
		return nil, err
	}
	defer rows.Close()

	found := make(map[string]*Company, len(normalized))
	for rows.Next() {
		company := &Company{}
		err := rows.Scan(&company.Ticker, &company.Name, &company.Market,
			&company.CIK, &company.Exchange, &company.ListingCurrency,
			&company.Sector, &company.Industry)
		if err != nil {
			log.Error().Stack().Err(err).Msg("could not scan company row")
			return nil, err
		}
		found[company.Ticker] = company
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	companies := make([]*Company, 0, len(found))
	for _, ticker := range normalized {
		company, ok := found[ticker]
		if !ok {
			log.Warn().Str("Ticker", ticker).Msg("ticker not in companies table; skipping")
			continue
		}
		companies = append(companies, company)
	}

	sort.Slice(companies, func(i, j int) bool {
		return companies[i].Ticker < companies[j].Ticker
	})
	return companies, nil
}
