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
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// RedisStore persists values in redis with an in-process LRU layer in front.
// Values are lz4 compressed before they leave the process.
type RedisStore struct {
	rdb   *redis.Client
	local *lru.Cache
	ttl   time.Duration
}

// NewRedisStore connects to the redis instance configured under cache.redis_url
func NewRedisStore() (*RedisStore, error) {
	opt, err := redis.ParseURL(viper.GetString("cache.redis_url"))
	if err != nil {
		log.Error().Err(err).Msg("could not parse redis URL")
		return nil, err
	}

	localSize := viper.GetInt("cache.local_size")
	if localSize <= 0 {
		localSize = 1024
	}

	local, err := lru.New(localSize)
	if err != nil {
		log.Error().Err(err).Msg("could not create LRU cache")
		return nil, err
	}

	return &RedisStore{
		rdb:   redis.NewClient(opt),
		local: local,
		ttl:   viper.GetDuration("cache.ttl"),
	}, nil
}

func (store *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := store.local.Get(key); ok {
		return decompress(v.([]byte))
	}

	val, err := store.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, err
	}

	store.local.Add(key, val)
	return decompress(val)
}

func (store *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	compressed, err := compress(value)
	if err != nil {
		return err
	}

	store.local.Add(key, compressed)
	return store.rdb.Set(ctx, key, compressed, store.ttl).Err()
}

func (store *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := make([]string, 0, 100)
	iter := store.rdb.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (store *RedisStore) Close() error {
	store.local.Purge()
	return store.rdb.Close()
}
