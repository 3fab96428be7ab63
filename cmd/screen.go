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
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/penny-vault/ncav-screener/data"
	"github.com/penny-vault/ncav-screener/database"
	"github.com/penny-vault/ncav-screener/fx"
	"github.com/penny-vault/ncav-screener/kvstore"
	"github.com/penny-vault/ncav-screener/observability/opentelemetry"
	"github.com/penny-vault/ncav-screener/screen"
	"github.com/penny-vault/ncav-screener/valuation"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	screenMarkets []string
	screenOutput  string
)

func init() {
	rootCmd.AddCommand(screenCmd)

	screenCmd.Flags().StringSliceVar(&screenMarkets, "markets", nil, "restrict the screen to these market codes")
	screenCmd.Flags().StringVarP(&screenOutput, "output", "o", "", "write the JSON report to a file instead of stdout")
}

var screenCmd = &cobra.Command{
	Use:        "screen [flags] [TICKER...]",
	Short:      "Run the NCAV screen over the company universe",
	Long:       `Evaluate every company in the universe (or an explicit ticker shortlist) and emit a flagged valuation report.`,
	ArgAliases: []string{"TICKER"},
	Run: func(cmd *cobra.Command, args []string) {
		ctx := context.Background()

		shutdown, err := opentelemetry.Setup()
		if err != nil {
			log.Warn().Err(err).Msg("could not setup tracing")
		} else {
			defer shutdown(ctx)
		}

		if err := database.Connect(ctx); err != nil {
			log.Fatal().Err(err).Msg("could not connect to database")
		}
		defer database.Close()

		stack, err := buildStack(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("could not build screening stack")
		}
		defer stack.store.Close()

		pool, err := database.Pool()
		if err != nil {
			log.Fatal().Err(err).Msg("database pool unavailable")
		}

		var companies []*data.Company
		if len(args) > 0 {
			companies, err = data.LookupCompanies(ctx, pool, args)
		} else {
			companies, err = data.LoadUniverse(ctx, pool, screenMarkets)
		}
		if err != nil {
			log.Fatal().Err(err).Msg("could not load company universe")
		}
		if len(companies) == 0 {
			log.Fatal().Msg("company universe is empty")
		}

		report, err := stack.orchestrator.Run(ctx, companies)
		if err != nil {
			log.Fatal().Stack().Err(err).Msg("screening run failed")
		}

		// fingerprints make runs diffable: identical cached inputs hash
		// identical across runs
		for _, result := range report.Results {
			if fingerprint, err := result.Fingerprint(); err == nil {
				log.Debug().Str("Ticker", result.Ticker).Str("Fingerprint", fingerprint).Msg("result fingerprint")
			}
		}

		printSummary(report)

		raw, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			log.Fatal().Err(err).Msg("could not marshal report")
		}
		if screenOutput != "" {
			if err := os.WriteFile(screenOutput, raw, 0644); err != nil {
				log.Fatal().Err(err).Str("Output", screenOutput).Msg("could not write report")
			}
		} else {
			fmt.Println(string(raw))
		}
	},
}

// screeningStack bundles the long-lived pieces a run needs.
type screeningStack struct {
	store        kvstore.Store
	registry     *data.AdapterRegistry
	markets      map[string]data.MarketConfig
	cache        *data.Cache
	resolver     *fx.Resolver
	orchestrator *screen.Orchestrator
}

func buildStack(ctx context.Context) (*screeningStack, error) {
	markets, err := data.LoadMarkets(viper.GetString("screen.markets_file"))
	if err != nil {
		return nil, err
	}

	registry := data.NewAdapterRegistry()
	registry.Register(data.NewSECAdapter())
	registry.Register(data.NewHKEXAdapter())

	var store kvstore.Store
	if viper.GetString("cache.redis_url") != "" {
		store, err = kvstore.NewRedisStore()
		if err != nil {
			return nil, err
		}
	} else {
		log.Info().Msg("no redis configured; using in-memory cache")
		store = kvstore.NewMemoryStore()
	}

	resolver := fx.NewResolver(fx.NewExchangeRateHost())

	reporting := strings.ToUpper(viper.GetString("screen.reporting_currency"))
	if reporting == "" {
		reporting = fx.BaseCurrency
	}
	// an unresolvable reporting currency is a config error; fail before
	// any ticker is touched
	if _, err := resolver.Rate(ctx, fx.BaseCurrency, reporting, time.Now().UTC()); err != nil {
		return nil, err
	}

	cache := data.NewCache(store, registry, markets)
	calculator := valuation.NewCalculator(resolver, reporting)
	analyzer := valuation.NewAnalyzer(resolver)

	return &screeningStack{
		store:        store,
		registry:     registry,
		markets:      markets,
		cache:        cache,
		resolver:     resolver,
		orchestrator: screen.NewOrchestrator(cache, registry, markets, calculator, analyzer),
	}, nil
}

func printSummary(report *screen.RunReport) {
	fmt.Printf("Run %s (%s)\n", report.RunID, report.ReportingCurrency)
	for _, result := range report.Results {
		if result.Err != "" {
			fmt.Printf("%-10s ERROR %s\n", result.Ticker, result.Err)
			continue
		}
		ratio := "n/a"
		if result.Metrics != nil && result.Metrics.PriceToNCAV != nil {
			ratio = fmt.Sprintf("%.2f", *result.Metrics.PriceToNCAV)
		}
		fmt.Printf("%-10s p/ncav=%-6s green=%v red=%v\n", result.Ticker, ratio, result.GreenFlags, result.RedFlags)
	}
}
