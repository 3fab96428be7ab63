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
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Kind identifies a class of cached data for a company
type Kind string

const (
	KindFundamentals Kind = "fundamentals"
	KindInsider      Kind = "insider"
)

// Company identifies a single listed equity. Companies are immutable once
// loaded for a universe build; a universe refresh re-creates them.
type Company struct {
	Ticker          string `json:"ticker"` // house form, e.g. "OP.US", "0591.HK"
	Name            string `json:"name"`
	Market          string `json:"market"`        // market code, e.g. "US", "HK"
	CIK             string `json:"cik,omitempty"` // SEC central index key, US only
	Exchange        string `json:"exchange,omitempty"`
	ListingCurrency string `json:"listingCurrency"` // quote currency on the exchange
	Sector          string `json:"sector,omitempty"`
	Industry        string `json:"industry,omitempty"`
}

// FinancialSnapshot is one point-in-time fundamentals record. Optional
// balance-sheet fields are nil when the filing did not disclose them; nil is
// never conflated with zero.
type FinancialSnapshot struct {
	Ticker     string    `json:"ticker"`
	FilingDate time.Time `json:"filingDate"`
	Currency   string    `json:"currency"` // currency the figures are stated in

	CurrentAssets      *decimal.Decimal `json:"currentAssets,omitempty"`
	TotalAssets        *decimal.Decimal `json:"totalAssets,omitempty"`
	TotalLiabilities   *decimal.Decimal `json:"totalLiabilities,omitempty"`
	CurrentLiabilities *decimal.Decimal `json:"currentLiabilities,omitempty"`
	Cash               *decimal.Decimal `json:"cash,omitempty"`
	Equity             *decimal.Decimal `json:"equity,omitempty"`
	SharesOut          *decimal.Decimal `json:"sharesOut,omitempty"`

	Source    string    `json:"source"` // adapter that produced the record
	FetchedAt time.Time `json:"fetchedAt"`
}

// SnapshotSet is the append-only, time-ordered snapshot sequence for one
// company: newest first by filing date, ties broken by fetch timestamp so the
// most recently fetched record for a filing date (a restatement) wins.
type SnapshotSet []*FinancialSnapshot

func (set SnapshotSet) Sort() {
	sort.SliceStable(set, func(i, j int) bool {
		if !set[i].FilingDate.Equal(set[j].FilingDate) {
			return set[i].FilingDate.After(set[j].FilingDate)
		}
		return set[i].FetchedAt.After(set[j].FetchedAt)
	})
}

// Latest returns the most recent authoritative snapshot or nil when empty.
func (set SnapshotSet) Latest() *FinancialSnapshot {
	if len(set) == 0 {
		return nil
	}
	return set[0]
}

// Authoritative collapses the sequence to one snapshot per filing date,
// keeping the most recently fetched record for each. The audit trail in the
// full set is untouched.
func (set SnapshotSet) Authoritative() SnapshotSet {
	seen := make(map[string]bool, len(set))
	out := make(SnapshotSet, 0, len(set))
	for _, snapshot := range set {
		sig := snapshot.FilingDate.Format("2006-01-02")
		if seen[sig] {
			continue
		}
		seen[sig] = true
		out = append(out, snapshot)
	}
	return out
}

// TxnSide is the direction of an insider transaction
type TxnSide string

const (
	TxnBuy  TxnSide = "buy"
	TxnSell TxnSide = "sell"
)

// InsiderTransaction is a single reported insider trade for a company.
type InsiderTransaction struct {
	Ticker string           `json:"ticker"`
	Date   time.Time        `json:"date"`
	Side   TxnSide          `json:"side"`
	Shares decimal.Decimal  `json:"shares"`
	Value  *decimal.Decimal `json:"value,omitempty"`
}

// PriceQuote is the latest observed price for a company, with its currency
// carried explicitly.
type PriceQuote struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency"`
	AsOf     time.Time       `json:"asOf"`
}
