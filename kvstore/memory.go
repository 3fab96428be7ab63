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

package kvstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a map-backed Store. It satisfies the same contract as the
// redis implementation and is the substitute used in tests and one-shot runs
// where no durable backend is configured.
type MemoryStore struct {
	values map[string][]byte
	locker sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte, 100),
	}
}

func (store *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	store.locker.RLock()
	defer store.locker.RUnlock()

	val, ok := store.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	cp := make([]byte, len(val))
	copy(cp, val)
	return cp, nil
}

func (store *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	store.locker.Lock()
	defer store.locker.Unlock()

	cp := make([]byte, len(value))
	copy(cp, value)
	store.values[key] = cp
	return nil
}

func (store *MemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	store.locker.RLock()
	defer store.locker.RUnlock()

	keys := make([]string, 0, len(store.values))
	for k := range store.values {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)
	return keys, nil
}

func (store *MemoryStore) Close() error {
	return nil
}
