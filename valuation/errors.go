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

import "fmt"

// Field names a fundamental input the calculator cannot proceed without.
type Field string

const (
	FieldCurrentAssets    Field = "currentAssets"
	FieldTotalLiabilities Field = "totalLiabilities"
	FieldShareCount       Field = "sharesOut"
)

// Error reports a missing or unusable required field. Ratios with optional
// inputs degrade to unavailable instead of raising this.
type Error struct {
	Ticker string
	Field  Field
}

func (err *Error) Error() string {
	return fmt.Sprintf("cannot value %s: required field %s is missing or invalid", err.Ticker, err.Field)
}
