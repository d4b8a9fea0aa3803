// Copyright 2026 Chalk Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	abacusconfig "github.com/chalklabs/abacus/pkg/config"
)

var (
	cfgFile string
	config  *abacusconfig.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "abacusd",
	Short: "Abacus - conversational analytics over school performance data",
	Long: `Abacus answers natural-language questions about school performance
data by orchestrating an LLM with schema-described dataset tools. It
serves a streaming conversation API and a JSON-RPC tool endpoint.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $ABACUS_DATA_DIR/abacus.yaml)")

	// Server flags
	rootCmd.PersistentFlags().String("host", "0.0.0.0", "HTTP server host")
	rootCmd.PersistentFlags().Int("port", 8080, "HTTP server port")

	// LLM flags
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use ANTHROPIC_API_KEY)")
	rootCmd.PersistentFlags().String("model", "claude-sonnet-4-5-20250929", "Anthropic model")

	// Dataset flags
	// GetDataDir respects the ABACUS_DATA_DIR environment variable
	defaultDBPath := filepath.Join(abacusconfig.GetDataDir(), "schools.db")
	rootCmd.PersistentFlags().String("db", defaultDBPath, "SQLite dataset path")
	rootCmd.PersistentFlags().String("csv", "", "load school records from CSV at startup")
	rootCmd.PersistentFlags().Bool("seed-sample", false, "seed the built-in sample dataset when the store is empty")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.host", rootCmd.PersistentFlags().Lookup("host"))
	_ = viper.BindPFlag("server.port", rootCmd.PersistentFlags().Lookup("port"))

	_ = viper.BindPFlag("llm.api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.model", rootCmd.PersistentFlags().Lookup("model"))

	_ = viper.BindPFlag("dataset.path", rootCmd.PersistentFlags().Lookup("db"))
	_ = viper.BindPFlag("dataset.csv_path", rootCmd.PersistentFlags().Lookup("csv"))
	_ = viper.BindPFlag("dataset.seed_sample", rootCmd.PersistentFlags().Lookup("seed-sample"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = abacusconfig.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
}
