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
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("company not found")
	ErrUnknownMarket      = errors.New("no adapter registered for market")
	ErrMalformedResponse  = errors.New("malformed upstream response")
	ErrNoData             = errors.New("no data returned")
	ErrFilingAfterFetch   = errors.New("filing date after fetch timestamp")
	ErrInvalidPeriodCount = errors.New("reporting period must be positive")
)

// FetchError reports an upstream fetch failure for one (ticker, kind) pair.
type FetchError struct {
	Ticker string
	Kind   Kind
	Err    error
}

func (err *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s/%s: %v", err.Ticker, err.Kind, err.Err)
}

func (err *FetchError) Unwrap() error {
	return err.Err
}
