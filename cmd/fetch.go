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

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/penny-vault/ncav-screener/common"
	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/database"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	fetchMarkets  []string
	fetchSchedule string
)

func init() {
	rootCmd.AddCommand(fetchCmd)

	fetchCmd.Flags().StringSliceVar(&fetchMarkets, "markets", nil, "restrict the refresh to these market codes")
	fetchCmd.Flags().StringVar(&fetchSchedule, "schedule", "", "cron expression; refresh on this schedule instead of once")
}

var fetchCmd = &cobra.Command{
	Use:   "fetch [flags] [TICKER...]",
	Short: "Warm the fundamentals cache without running the screen",
	Long:  `Refresh cached fundamentals and insider history for the universe (or a ticker shortlist), so later screen runs hit the cache.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer database.Close()

		if fetchSchedule == "" {
			if err := refreshUniverse(ctx, args); err != nil {
				log.Fatal().Err(err).Msg("cache refresh failed")
			}
			return
		}

		scheduler := cron.New(cron.WithLocation(common.GetTimezone()))
		_, err := scheduler.AddFunc(fetchSchedule, func() {
			if err := refreshUniverse(ctx, args); err != nil {
				log.Error().Err(err).Msg("scheduled cache refresh failed")
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("Schedule", fetchSchedule).Msg("invalid cron expression")
		}

		log.Info().Str("Schedule", fetchSchedule).Msg("starting scheduled cache refresh")
		scheduler.Start()

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		<-scheduler.Stop().Done()
	},
}

// refreshUniverse walks the shortlist and touches every cache key. A new
// cache is built per pass so the at-most-one-fetch-per-run guard resets.
func refreshUniverse(ctx context.Context, tickers []string) error {
	stack, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer stack.store.Close()

	pool, err := database.Pool()
	if err != nil {
		return err
	}

	var companies []*data.Company
	if len(tickers) > 0 {
		companies, err = data.LookupCompanies(ctx, pool, tickers)
	} else {
		companies, err = data.LoadUniverse(ctx, pool, fetchMarkets)
	}
	if err != nil {
		return err
	}

	for _, company := range companies {
		if _, degraded, err := stack.cache.Fundamentals(ctx, company); err != nil {
			log.Warn().Err(err).Str("Ticker", company.Ticker).Msg("could not refresh fundamentals")
		} else if degraded {
			log.Warn().Str("Ticker", company.Ticker).Msg("fundamentals refresh degraded to cached data")
		}
		if _, _, err := stack.cache.Insiders(ctx, company); err != nil {
			log.Warn().Err(err).Str("Ticker", company.Ticker).Msg("could not refresh insider history")
		}
	}

	log.Info().Int("NumCompanies", len(companies)).Msg("cache refresh complete")
	return nil
}
