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
	"encoding/hex"
	"time"

	"github.com/goccy/go-json"
	"github.com/zeebo/blake3"
)

// Result is the full valuation outcome for one ticker. It is recomputed on
// every run and never persisted as authoritative state; identical cached
// inputs must produce an identical Fingerprint.
type Result struct {
	Ticker string `json:"ticker"`
	Name   string `json:"name,omitempty"`
	Market string `json:"market"`

	FilingDate time.Time `json:"filingDate,omitempty"`

	Metrics  *Metrics        `json:"metrics,omitempty"`
	Trend    *Trend          `json:"trend,omitempty"`
	Insiders *InsiderSummary `json:"insiders,omitempty"`

	GreenFlags []Flag `json:"greenFlags,omitempty"`
	RedFlags   []Flag `json:"redFlags,omitempty"`

	StaleFiling          bool `json:"staleFiling"`
	DegradedFundamentals bool `json:"degradedFundamentals"`
	DegradedInsiders     bool `json:"degradedInsiders"`

	// DataAgeDays counts whole days between the base filing and the
	// evaluation time.
	DataAgeDays int `json:"dataAgeDays"`

	// Err records a whole-ticker failure; a failed ticker carries no
	// metrics or flags but stays in the run output.
	Err string `json:"error,omitempty"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Fingerprint hashes the deterministic portion of the result. GeneratedAt is
// excluded; everything else derives purely from the cached inputs, so equal
// inputs hash equal across runs.
func (result *Result) Fingerprint() (string, error) {
	shadow := *result
	shadow.GeneratedAt = time.Time{}

	raw, err := json.Marshal(&shadow)
	if err != nil {
		return "", err
	}

	sum := blake3.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
