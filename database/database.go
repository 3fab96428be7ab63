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

package database

import (
	"context"
	"errors"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Queryable is the read-only query surface; pgxmock satisfies it in tests.
type Queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// PgxIface is the subset of the pgxpool API the screener uses.
type PgxIface interface {
	Queryable
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	Close()
}

var pool PgxIface

var ErrNotConnected = errors.New("database connection has not been established")

// Connect establishes the postgres connection pool from database.url.
func Connect(ctx context.Context) error {
	dbURL := viper.GetString("database.url")
	p, err := pgxpool.Connect(ctx, dbURL)
	if err != nil {
		log.Error().Stack().Err(err).Msg("could not connect to database")
		return err
	}
	pool = p
	return nil
}

// SetPool replaces the active pool; used by tests to install a mock.
func SetPool(p PgxIface) {
	pool = p
}

// Pool returns the active connection pool.
func Pool() (PgxIface, error) {
	if pool == nil {
		return nil, ErrNotConnected
	}
	return pool, nil
}

// Close tears down the connection pool.
func Close() {
	if pool != nil {
		pool.Close()
		pool = nil
	}
}
