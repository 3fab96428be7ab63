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
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

// MarketConfig carries the per-market knobs: how often companies in the
// market file (which drives cache staleness) and which adapter serves it.
type MarketConfig struct {
	Code                string `toml:"-"`
	Adapter             string `toml:"adapter"`
	Currency            string `toml:"currency"`
	ReportingPeriodDays int    `toml:"reporting_period_days"`
}

// ReportingPeriod returns the market's filing cadence as a duration.
func (cfg MarketConfig) ReportingPeriod() time.Duration {
	return time.Duration(cfg.ReportingPeriodDays) * 24 * time.Hour
}

// DefaultMarkets returns the built-in market registry. US companies file
// quarterly; HK companies file semi-annually.
func DefaultMarkets() map[string]MarketConfig {
	return map[string]MarketConfig{
		"US": {Code: "US", Adapter: "sec", Currency: "USD", ReportingPeriodDays: 90},
		"HK": {Code: "HK", Adapter: "hkex", Currency: "HKD", ReportingPeriodDays: 180},
	}
}

// LoadMarkets reads a markets.toml file and overlays it on the defaults.
// A missing file is not an error; the defaults stand.
func LoadMarkets(path string) (map[string]MarketConfig, error) {
	markets := DefaultMarkets()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return markets, nil
		}
		log.Error().Err(err).Str("Path", path).Msg("could not read markets file")
		return nil, err
	}

	parsed := make(map[string]MarketConfig)
	if err := toml.Unmarshal(raw, &parsed); err != nil {
		log.Error().Err(err).Str("Path", path).Msg("could not parse markets file")
		return nil, err
	}

	for code, cfg := range parsed {
		cfg.Code = code
		if cfg.ReportingPeriodDays <= 0 {
			return nil, ErrInvalidPeriodCount
		}
		markets[code] = cfg
	}

	return markets, nil
}
