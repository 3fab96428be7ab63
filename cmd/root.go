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
	"fmt"
	"os"

	"github.com/penny-vault/ncav-screener/common"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	// Database
	viper.BindEnv("database.url", "DATABASE_URL")
	rootCmd.PersistentFlags().String("database-url", "", "PostgreSQL connection string")
	viper.BindPFlag("database.url", rootCmd.PersistentFlags().Lookup("database-url"))

	// Cache
	viper.BindEnv("cache.redis_url", "REDIS_URL")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis server for the fundamentals cache; in-memory when blank")
	viper.BindPFlag("cache.redis_url", rootCmd.PersistentFlags().Lookup("redis-url"))

	rootCmd.PersistentFlags().Int("cache-local-size", 1024, "Number of entries in the in-process LRU in front of redis")
	viper.BindPFlag("cache.local_size", rootCmd.PersistentFlags().Lookup("cache-local-size"))

	rootCmd.PersistentFlags().Duration("cache-insider-refresh", 0, "Insider cache refresh interval (default 168h)")
	viper.BindPFlag("cache.insider_refresh", rootCmd.PersistentFlags().Lookup("cache-insider-refresh"))

	// Screening
	viper.BindEnv("screen.reporting_currency", "REPORTING_CURRENCY")
	rootCmd.PersistentFlags().String("reporting-currency", "USD", "Currency all metrics are reported in")
	viper.BindPFlag("screen.reporting_currency", rootCmd.PersistentFlags().Lookup("reporting-currency"))

	rootCmd.PersistentFlags().Int("max-workers", 4, "Maximum concurrent ticker evaluations")
	viper.BindPFlag("screen.max_workers", rootCmd.PersistentFlags().Lookup("max-workers"))

	rootCmd.PersistentFlags().String("markets-file", "markets.toml", "Per-market configuration overlay")
	viper.BindPFlag("screen.markets_file", rootCmd.PersistentFlags().Lookup("markets-file"))

	// Upstream sources
	viper.BindEnv("sec.user_agent", "SEC_USER_AGENT")
	rootCmd.PersistentFlags().String("sec-user-agent", "", "User-Agent header sent to EDGAR")
	viper.BindPFlag("sec.user_agent", rootCmd.PersistentFlags().Lookup("sec-user-agent"))

	viper.BindEnv("sec.insider_url", "SEC_INSIDER_URL")
	rootCmd.PersistentFlags().String("sec-insider-url", "", "Form 4 scan service endpoint")
	viper.BindPFlag("sec.insider_url", rootCmd.PersistentFlags().Lookup("sec-insider-url"))

	rootCmd.PersistentFlags().Int("sec-insider-days-back", 365, "Insider transaction history depth requested from the scan service")
	viper.BindPFlag("sec.insider_days_back", rootCmd.PersistentFlags().Lookup("sec-insider-days-back"))

	viper.BindEnv("hkex.insider_url", "HKEX_INSIDER_URL")
	rootCmd.PersistentFlags().String("hkex-insider-url", "", "SDI scan service endpoint")
	viper.BindPFlag("hkex.insider_url", rootCmd.PersistentFlags().Lookup("hkex-insider-url"))

	// Logging configuration
	viper.BindEnv("log.level", "NCAV_LOG_LEVEL")
	rootCmd.PersistentFlags().String("log-level", "warning", "Logging level")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	viper.BindEnv("log.report_caller", "NCAV_LOG_REPORT_CALLER")
	rootCmd.PersistentFlags().Bool("log-report-caller", false, "Log function name that called log statement")
	viper.BindPFlag("log.report_caller", rootCmd.PersistentFlags().Lookup("log-report-caller"))

	viper.BindEnv("log.output", "NCAV_LOG_OUTPUT")
	rootCmd.PersistentFlags().String("log-output", "stdout", "Write logs to specified output one of: file path, `stdout`, or `stderr`")
	viper.BindPFlag("log.output", rootCmd.PersistentFlags().Lookup("log-output"))

	rootCmd.PersistentFlags().Bool("log-pretty", false, "Use human friendly console log output")
	viper.BindPFlag("log.pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

var rootCmd = &cobra.Command{
	Use:     "ncav-screener",
	Version: common.CurrentVersion.String(),
	Short:   "Screen equity markets for companies trading below net current asset value",
	Long: `ncav-screener combines cached fundamentals, currency normalization, and
rule-based flagging to find Graham net-net candidates across markets.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.SetupLogging()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
