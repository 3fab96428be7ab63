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

package valuation

import (
	"context"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/fx"
	"github.com/shopspring/decimal"
)

// marginOfSafety is Graham's two-thirds threshold on price-to-NCAV.
var marginOfSafety = decimal.NewFromInt(2).Div(decimal.NewFromInt(3))

// Metrics holds the NCAV figures for one company. Monetary fields carry the
// reporting currency except the Native pair, which stays in the filing
// currency, and NCAVUSD. Pointer fields are nil when the snapshot did not
// disclose the inputs.
type Metrics struct {
	NCAVNative         decimal.Decimal `json:"ncavNative"`
	NCAVPerShareNative decimal.Decimal `json:"ncavPerShareNative"`
	NativeCurrency     string          `json:"nativeCurrency"`

	NCAV         decimal.Decimal `json:"ncav"`
	NCAVPerShare decimal.Decimal `json:"ncavPerShare"`
	Currency     string          `json:"currency"`

	// NCAVUSD is a cross-market comparison figure; nil when no USD rate
	// resolves for the filing date.
	NCAVUSD *decimal.Decimal `json:"ncavUSD,omitempty"`

	Price       decimal.Decimal `json:"price"`
	PriceToNCAV *float64        `json:"priceToNCAV,omitempty"`

	BelowNCAV      bool `json:"belowNCAV"`
	MarginOfSafety bool `json:"marginOfSafety"`

	// MarginOfSafetyValue is the discount to NCAV per share,
	// 1 - price/NCAVps; nil whenever PriceToNCAV is.
	MarginOfSafetyValue *float64 `json:"marginOfSafetyValue,omitempty"`

	CurrentRatio *float64 `json:"currentRatio,omitempty"`
	DebtToEquity *float64 `json:"debtToEquity,omitempty"`

	FXStale bool `json:"fxStale"`
}

// Calculator computes NCAV metrics in a fixed reporting currency. FX
// conversions use the snapshot's filing date so re-runs over cached data are
// reproducible.
type Calculator struct {
	resolver          *fx.Resolver
	reportingCurrency string
}

func NewCalculator(resolver *fx.Resolver, reportingCurrency string) *Calculator {
	return &Calculator{
		resolver:          resolver,
		reportingCurrency: fx.Normalize(reportingCurrency),
	}
}

func (calc *Calculator) ReportingCurrency() string {
	return calc.reportingCurrency
}

// Compute derives NCAV metrics from one snapshot and the latest price. A
// missing current-assets, total-liabilities, or share-count field fails the
// ticker with *Error; missing inputs to the secondary ratios leave those
// ratios nil.
func (calc *Calculator) Compute(ctx context.Context, snapshot *data.FinancialSnapshot, quote *data.PriceQuote) (*Metrics, error) {
	if snapshot.CurrentAssets == nil {
		return nil, &Error{Ticker: snapshot.Ticker, Field: FieldCurrentAssets}
	}
	if snapshot.TotalLiabilities == nil {
		return nil, &Error{Ticker: snapshot.Ticker, Field: FieldTotalLiabilities}
	}
	if snapshot.SharesOut == nil || !snapshot.SharesOut.IsPositive() {
		return nil, &Error{Ticker: snapshot.Ticker, Field: FieldShareCount}
	}

	metrics := &Metrics{
		NCAVNative:     snapshot.CurrentAssets.Sub(*snapshot.TotalLiabilities),
		NativeCurrency: fx.Normalize(snapshot.Currency),
		Currency:       calc.reportingCurrency,
	}
	metrics.NCAVPerShareNative = metrics.NCAVNative.Div(*snapshot.SharesOut)

	ncav, stale, err := calc.resolver.Convert(ctx, metrics.NCAVNative, metrics.NativeCurrency, calc.reportingCurrency, snapshot.FilingDate)
	if err != nil {
		return nil, err
	}
	metrics.NCAV = ncav
	metrics.FXStale = metrics.FXStale || stale

	metrics.NCAVPerShare = metrics.NCAV.Div(*snapshot.SharesOut)

	if calc.reportingCurrency == fx.BaseCurrency {
		ncavUSD := metrics.NCAV
		metrics.NCAVUSD = &ncavUSD
	} else if ncavUSD, stale, err := calc.resolver.Convert(ctx, metrics.NCAVNative, metrics.NativeCurrency, fx.BaseCurrency, snapshot.FilingDate); err == nil {
		metrics.NCAVUSD = &ncavUSD
		metrics.FXStale = metrics.FXStale || stale
	}

	price, stale, err := calc.resolver.Convert(ctx, quote.Price, fx.Normalize(quote.Currency), calc.reportingCurrency, quote.AsOf)
	if err != nil {
		return nil, err
	}
	metrics.Price = price
	metrics.FXStale = metrics.FXStale || stale

	if metrics.NCAVPerShare.IsPositive() {
		ratio := metrics.Price.Div(metrics.NCAVPerShare)
		val, _ := ratio.Float64()
		metrics.PriceToNCAV = &val
		discount := 1 - val
		metrics.MarginOfSafetyValue = &discount
		metrics.BelowNCAV = ratio.LessThan(decimal.NewFromInt(1))
		metrics.MarginOfSafety = ratio.LessThanOrEqual(marginOfSafety)
	}

	if snapshot.CurrentLiabilities != nil && snapshot.CurrentLiabilities.IsPositive() {
		ratio, _ := snapshot.CurrentAssets.Div(*snapshot.CurrentLiabilities).Float64()
		metrics.CurrentRatio = &ratio
	}

	if equity := equityOf(snapshot); equity != nil && equity.IsPositive() {
		ratio, _ := snapshot.TotalLiabilities.Div(*equity).Float64()
		metrics.DebtToEquity = &ratio
	}

	return metrics, nil
}

// equityOf returns disclosed stockholders equity, falling back to total
// assets minus total liabilities when the filing omits the equity line.
func equityOf(snapshot *data.FinancialSnapshot) *decimal.Decimal {
	if snapshot.Equity != nil {
		return snapshot.Equity
	}
	if snapshot.TotalAssets != nil && snapshot.TotalLiabilities != nil {
		equity := snapshot.TotalAssets.Sub(*snapshot.TotalLiabilities)
		return &equity
	}
	return nil
}
