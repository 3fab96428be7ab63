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

package kvstore_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penny-vault/ncav-screener/kvstore"
)

var _ = Describe("MemoryStore", func() {
	var store *kvstore.MemoryStore

	BeforeEach(func() {
		store = kvstore.NewMemoryStore()
	})

	It("round-trips values", func() {
		err := store.Set(context.Background(), "fundamentals:US:OP.US", []byte("payload"))
		Expect(err).To(BeNil())

		val, err := store.Get(context.Background(), "fundamentals:US:OP.US")
		Expect(err).To(BeNil())
		Expect(val).To(Equal([]byte("payload")))
	})

	It("reports a typed error for missing keys", func() {
		_, err := store.Get(context.Background(), "missing")
		Expect(err).To(MatchError(kvstore.ErrKeyNotFound))
	})

	It("copies stored values instead of aliasing them", func() {
		payload := []byte("payload")
		err := store.Set(context.Background(), "key", payload)
		Expect(err).To(BeNil())
		payload[0] = 'X'

		val, err := store.Get(context.Background(), "key")
		Expect(err).To(BeNil())
		Expect(val).To(Equal([]byte("payload")))
	})

	It("lists keys by prefix in sorted order", func() {
		Expect(store.Set(context.Background(), "insider:US:B", []byte("1"))).To(Succeed())
		Expect(store.Set(context.Background(), "fundamentals:US:A", []byte("1"))).To(Succeed())
		Expect(store.Set(context.Background(), "fundamentals:HK:C", []byte("1"))).To(Succeed())

		keys, err := store.Keys(context.Background(), "fundamentals:")
		Expect(err).To(BeNil())
		Expect(keys).To(Equal([]string{"fundamentals:HK:C", "fundamentals:US:A"}))
	})
})
