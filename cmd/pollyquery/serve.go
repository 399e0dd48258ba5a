package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/alexschlessinger/pollyquery/agent"
	"github.com/alexschlessinger/pollyquery/datastore"
	"github.com/alexschlessinger/pollyquery/internal/log"
	"github.com/alexschlessinger/pollyquery/llm"
	"github.com/alexschlessinger/pollyquery/orchestrator"
	"github.com/alexschlessinger/pollyquery/policy"
	"github.com/alexschlessinger/pollyquery/server"
	"github.com/alexschlessinger/pollyquery/tools"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"
)

func runServe(ctx context.Context, cmd *cli.Command) error {
	cfg, err := parseServeConfig(cmd)
	if err != nil {
		return err
	}

	log.InitServerLogger(cfg.Debug)
	defer log.Sync()

	effort, err := llm.ParseThinkingEffort(cfg.Think)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := datastore.OpenReadOnly(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	registry := tools.NewToolRegistry(tools.NewSQLTools(store))
	clients, err := tools.LoadMCPTools(ctx, registry, cfg.MCPServers)
	if err != nil {
		return err
	}
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()

	guard, err := policy.LoadFile(ctx, cfg.Policy)
	if err != nil {
		return err
	}

	reasoner := agent.New(llm.NewMultiPass(llm.APIKeysFromEnv()), registry, store, agent.Config{
		Request: llm.CompletionRequest{
			BaseURL:        cfg.BaseURL,
			Model:          cfg.Model,
			Temperature:    float32(cfg.Temperature),
			MaxTokens:      cfg.MaxTokens,
			ThinkingEffort: effort,
		},
		Route:         cfg.Route,
		MaxIterations: cfg.MaxIterations,
		ToolTimeout:   cfg.ToolTimeout,
		Guard:         guard,
	})

	orch := orchestrator.New(reasoner, orchestrator.Config{Timeout: cfg.Timeout})
	srv := server.New(orch, store, server.Config{
		Addr:        cfg.Addr,
		CORSOrigins: cfg.CORSOrigins,
	})

	zap.S().Infow("serve_config",
		"addr", cfg.Addr,
		"database", cfg.Database,
		"model", cfg.Model,
		"tools", registry.Names(),
		"route", cfg.Route,
		"timeout", cfg.Timeout)

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
