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
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chalklabs/abacus/pkg/admission"
	"github.com/chalklabs/abacus/pkg/agent"
	"github.com/chalklabs/abacus/pkg/audit"
	"github.com/chalklabs/abacus/pkg/evals"
	"github.com/chalklabs/abacus/pkg/llm/anthropic"
	rpcserver "github.com/chalklabs/abacus/pkg/rpc/server"
	"github.com/chalklabs/abacus/pkg/server"
	"github.com/chalklabs/abacus/pkg/tool/builtin"
)

const serverVersion = "0.1.0"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Abacus server",
	Long: `Start the Abacus server.

The server will:
- Open the school dataset and register its query tools
- Initialize the Anthropic conversation orchestrator
- Serve the SSE conversation endpoint and the JSON-RPC tool endpoint

Press Ctrl+C to gracefully shutdown.`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	logger, err := buildLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := os.MkdirAll(config.DataDir, 0o755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Dataset store and tools
	store, err := builtin.OpenStore(config.Dataset.Path)
	if err != nil {
		logger.Fatal("failed to open dataset store", zap.Error(err))
	}
	defer store.Close()

	if err := populateDataset(ctx, store, logger); err != nil {
		logger.Fatal("failed to populate dataset", zap.Error(err))
	}

	registry, err := builtin.NewRegistry(store)
	if err != nil {
		logger.Fatal("failed to build tool registry", zap.Error(err))
	}
	logger.Info("tool registry ready", zap.Strings("tools", registry.List()))

	// LLM provider
	if config.LLM.APIKey == "" {
		logger.Fatal("no Anthropic API key configured; set --anthropic-key or ANTHROPIC_API_KEY")
	}
	provider := anthropic.NewClient(anthropic.Config{
		APIKey:      config.LLM.APIKey,
		Model:       config.LLM.Model,
		MaxTokens:   config.LLM.MaxTokens,
		Temperature: config.LLM.Temperature,
	})

	// Orchestrator options
	opts := []agent.Option{agent.WithLogger(logger)}

	var auditStore *audit.Store
	if config.Audit.Enabled {
		auditStore, err = audit.OpenStore(config.Audit.Path, logger)
		if err != nil {
			logger.Fatal("failed to open audit store", zap.Error(err))
		}
		defer auditStore.Close()
		opts = append(opts, agent.WithAuditStore(auditStore))
	}

	if config.Evals.Enabled {
		evalTimeout := time.Duration(config.Evals.EvaluatorTimeoutSeconds) * time.Second
		suggestTimeout := time.Duration(config.Evals.SuggesterTimeoutSeconds) * time.Second
		opts = append(opts,
			agent.WithEvaluator(evals.NewEvaluator(provider, evalTimeout, logger)),
			agent.WithSuggester(evals.NewSuggester(provider, suggestTimeout, logger)),
		)
	}

	orchestrator, err := agent.New(provider, registry, agent.Config{
		MaxToolRounds: config.Agent.MaxToolRounds,
		SystemPrompt:  config.Agent.SystemPrompt,
	}, opts...)
	if err != nil {
		logger.Fatal("failed to create orchestrator", zap.Error(err))
	}

	// Admission: the chat endpoint and the RPC endpoint each get their
	// own gate; the daily budget is shared process-wide.
	gateConfig := admission.GateConfig{
		MaxRequests: config.Admission.MaxRequests,
		Window:      time.Duration(config.Admission.WindowSeconds) * time.Second,
	}
	chatGate := admission.NewGate(gateConfig, logger)
	rpcGate := admission.NewGate(gateConfig, logger)
	budget := admission.NewBudgetGate(admission.BudgetConfig{
		DailyTokens: config.Admission.DailyTokens,
	}, logger)

	rpc := rpcserver.NewRPCServer("abacus", serverVersion, registry, logger)
	rpcHandler := rpcserver.NewHandler(rpc, rpcGate, logger)

	serverOpts := []server.Option{
		server.WithAdmissionGate(chatGate),
		server.WithBudgetGate(budget),
		server.WithRPCHandler(rpcHandler),
	}
	if auditStore != nil {
		serverOpts = append(serverOpts, server.WithAuditStore(auditStore))
	}

	httpServer := server.NewHTTPServer(orchestrator, config.Server.Addr(), logger, serverOpts...)

	// Graceful shutdown on SIGINT/SIGTERM
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start(ctx)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server failed", zap.Error(err))
		}
	}
}

// populateDataset loads CSV data or the built-in sample into an empty
// store.
func populateDataset(ctx context.Context, store *builtin.Store, logger *zap.Logger) error {
	if config.Dataset.CSVPath != "" {
		n, err := store.LoadCSV(ctx, config.Dataset.CSVPath)
		if err != nil {
			return err
		}
		logger.Info("loaded school records from CSV",
			zap.String("path", config.Dataset.CSVPath), zap.Int("records", n))
		return nil
	}

	count, err := store.Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 && config.Dataset.SeedSample {
		if err := store.SeedSample(ctx); err != nil {
			return err
		}
		logger.Info("seeded sample dataset")
	}
	return nil
}

// buildLogger creates the process logger from the logging config.
func buildLogger() (*zap.Logger, error) {
	var zapConfig zap.Config
	if config.Logging.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
	}

	logLevel := zap.InfoLevel
	if config.Logging.Level != "" {
		if err := logLevel.UnmarshalText([]byte(config.Logging.Level)); err != nil {
			log.Printf("Invalid log level %q, using INFO: %v", config.Logging.Level, err)
		}
	}
	zapConfig.Level = zap.NewAtomicLevelAt(logLevel)

	return zapConfig.Build(zap.AddStacktrace(zap.ErrorLevel))
}
