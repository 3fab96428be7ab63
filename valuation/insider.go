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
	"time"

	"github.com/penny-vault/ncav-screener/data"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Signal classifies recent insider activity
type Signal string

const (
	SignalNone    Signal = "none"
	SignalBuy     Signal = "buy"
	SignalSell    Signal = "sell"
	SignalNetBuy  Signal = "net buy"
	SignalNetSell Signal = "net sell"
)

// InsiderSummary aggregates a company's insider transactions inside the
// lookback window. An empty transaction list yields SignalNone; absence of
// insider data is ordinary, not an error.
type InsiderSummary struct {
	Signal       Signal          `json:"signal"`
	BuyCount     int             `json:"buyCount"`
	SellCount    int             `json:"sellCount"`
	BuyShares    decimal.Decimal `json:"buyShares"`
	SellShares   decimal.Decimal `json:"sellShares"`
	LastActivity *time.Time      `json:"lastActivity,omitempty"`
}

// EvaluateInsiders summarizes transactions dated within insider.lookback of
// asOf (default 182 days). Mixed activity nets by share volume.
func EvaluateInsiders(txns []*data.InsiderTransaction, asOf time.Time) *InsiderSummary {
	lookback := viper.GetDuration("insider.lookback")
	if lookback <= 0 {
		lookback = 182 * day
	}
	cutoff := asOf.Add(-lookback)

	summary := &InsiderSummary{Signal: SignalNone}
	for _, txn := range txns {
		if txn.Date.Before(cutoff) || txn.Date.After(asOf) {
			continue
		}
		if summary.LastActivity == nil || txn.Date.After(*summary.LastActivity) {
			date := txn.Date
			summary.LastActivity = &date
		}
		switch txn.Side {
		case data.TxnBuy:
			summary.BuyCount++
			summary.BuyShares = summary.BuyShares.Add(txn.Shares)
		case data.TxnSell:
			summary.SellCount++
			summary.SellShares = summary.SellShares.Add(txn.Shares)
		}
	}

	switch {
	case summary.BuyCount == 0 && summary.SellCount == 0:
		summary.Signal = SignalNone
	case summary.SellCount == 0:
		summary.Signal = SignalBuy
	case summary.BuyCount == 0:
		summary.Signal = SignalSell
	case summary.BuyShares.GreaterThan(summary.SellShares):
		summary.Signal = SignalNetBuy
	case summary.SellShares.GreaterThan(summary.BuyShares):
		summary.Signal = SignalNetSell
	default:
		// equal share volume both ways carries no information
		summary.Signal = SignalNone
	}

	return summary
}
