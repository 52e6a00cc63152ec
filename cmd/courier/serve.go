package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/courierdev/courier/internal/ability"
	"github.com/courierdev/courier/internal/activity"
	"github.com/courierdev/courier/internal/auth"
	"github.com/courierdev/courier/internal/backend"
	"github.com/courierdev/courier/internal/channel"
	"github.com/courierdev/courier/internal/channel/adapters/discord"
	"github.com/courierdev/courier/internal/channel/adapters/telegram"
	"github.com/courierdev/courier/internal/config"
	"github.com/courierdev/courier/internal/conversation"
	"github.com/courierdev/courier/internal/dispatch"
	"github.com/courierdev/courier/internal/flow"
	"github.com/courierdev/courier/internal/logger"
	"github.com/courierdev/courier/internal/relevance"
	"github.com/courierdev/courier/internal/server"
	"github.com/courierdev/courier/internal/storage"
	"github.com/courierdev/courier/internal/version"
)

var configPath string

func backendTimeout(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the router, channel adapters, and HTTP API",
		Run: func(_ *cobra.Command, _ []string) {
			runServe()
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config.toml (defaults to $CONFIG_PATH, then ./config.toml)")
	return cmd
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideQueue,
			provideRules,
			provideArtifactStore,
			provideGenerativeClient,
			provideBackendRegistry,
			provideFilter,
			provideHub,
			provideFeed,
			provideKeyring,
			provideResolver,
			provideServer,
			provideChannelRegistry,
		),
		fx.Invoke(
			startAdapters,
			startKeyRotation,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideQueue(log *slog.Logger) *dispatch.Queue {
	return dispatch.NewQueue(log)
}

func provideRules(cfg config.Config) (*ability.Set, error) {
	rules, err := ability.Load(cfg.Abilities.RulesPath)
	if err != nil {
		return nil, fmt.Errorf("load ability rules: %w", err)
	}
	return rules, nil
}

func provideArtifactStore(cfg config.Config) (*storage.ArtifactStore, error) {
	return storage.NewArtifactStore(cfg.Storage.DataRoot)
}

func provideGenerativeClient(log *slog.Logger, cfg config.Config) (*backend.GenerativeClient, error) {
	return backend.NewGenerativeClient(
		log,
		cfg.Generative.BaseURL,
		cfg.Generative.APIKey,
		cfg.Generative.Model,
		backendTimeout(cfg.Generative.TimeoutSeconds),
	)
}

// provideBackendRegistry assembles every configured backend. The generative
// backend is mandatory; the rest register only when their config section
// carries what they need, so a deployment can run text-only.
func provideBackendRegistry(log *slog.Logger, cfg config.Config, generative *backend.GenerativeClient, store *storage.ArtifactStore) (*backend.Registry, error) {
	clients := []backend.Client{generative}

	if cfg.Image.BaseURL != "" {
		image, err := backend.NewImageClient(
			log,
			cfg.Image.BaseURL,
			cfg.Image.APIKey,
			cfg.Image.Model,
			cfg.Image.Size,
			backendTimeout(cfg.Image.TimeoutSeconds),
			store,
		)
		if err != nil {
			return nil, fmt.Errorf("image backend: %w", err)
		}
		clients = append(clients, image)
	}

	if cfg.Weather.APIKey != "" {
		weather, err := backend.NewWeatherClient(
			log,
			cfg.Weather.BaseURL,
			cfg.Weather.APIKey,
			backendTimeout(cfg.Weather.TimeoutSeconds),
		)
		if err != nil {
			return nil, fmt.Errorf("weather backend: %w", err)
		}
		clients = append(clients, weather)
	}

	sports, err := backend.NewSportsClient(log, cfg.Sports.BaseURL, backendTimeout(cfg.Sports.TimeoutSeconds))
	if err != nil {
		return nil, fmt.Errorf("sports backend: %w", err)
	}
	clients = append(clients, sports)

	if cfg.Search.APIKey != "" {
		search, err := backend.NewSearchClient(log, backend.SearchOptions{
			Provider:       cfg.Search.Provider,
			APIKey:         cfg.Search.APIKey,
			BaseURL:        cfg.Search.BaseURL,
			GoogleCX:       cfg.Search.GoogleCX,
			FetchTopResult: cfg.Search.FetchTopResult,
			Timeout:        backendTimeout(cfg.Search.TimeoutSeconds),
		})
		if err != nil {
			return nil, fmt.Errorf("search backend: %w", err)
		}
		clients = append(clients, search)
	}

	return backend.NewRegistry(clients...), nil
}

func provideFilter(log *slog.Logger, queue *dispatch.Queue, generative *backend.GenerativeClient, cfg config.Config) *relevance.Filter {
	return relevance.NewFilter(log, queue, generative, backendTimeout(cfg.Generative.TimeoutSeconds))
}

func provideHub(log *slog.Logger) *activity.Hub {
	return activity.NewHub(log)
}

func provideFeed(log *slog.Logger, hub *activity.Hub) *activity.Feed {
	return activity.NewFeed(log, activity.DefaultCapacity, hub)
}

func provideKeyring(log *slog.Logger, cfg config.Config) (*auth.Keyring, error) {
	return auth.NewKeyring(log, cfg.Auth.FeedSecret)
}

func provideResolver(log *slog.Logger, queue *dispatch.Queue, backends *backend.Registry, rules *ability.Set, filter *relevance.Filter, feed *activity.Feed, cfg config.Config) *flow.Resolver {
	budget := conversation.Budget{
		MaxMessages: cfg.Context.HistoryLimit,
		MaxChars:    cfg.Context.HistoryCharBudget,
	}
	return flow.NewResolver(log, queue, backends, rules, filter, feed, budget)
}

func provideServer(log *slog.Logger, cfg config.Config, queue *dispatch.Queue, rules *ability.Set, feed *activity.Feed, hub *activity.Hub, keyring *auth.Keyring) (*server.Server, error) {
	ttl, err := time.ParseDuration(cfg.Auth.FeedTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("parse feed_token_ttl: %w", err)
	}
	return server.New(log, cfg.Server.Addr, queue, rules, feed, hub, keyring, cfg.Auth.FeedSecret, ttl), nil
}

func provideChannelRegistry(log *slog.Logger, cfg config.Config, resolver *flow.Resolver, store *storage.ArtifactStore) (*channel.Registry, error) {
	registry := channel.NewRegistry()

	if cfg.Discord.Enabled {
		adapter, err := discord.New(log, cfg.Discord.BotToken, resolver, store)
		if err != nil {
			return nil, fmt.Errorf("discord adapter: %w", err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}
	if cfg.Telegram.Enabled {
		adapter, err := telegram.New(log, cfg.Telegram.BotToken, resolver, store)
		if err != nil {
			return nil, fmt.Errorf("telegram adapter: %w", err)
		}
		if err := registry.Register(adapter); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

func startAdapters(lc fx.Lifecycle, log *slog.Logger, registry *channel.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			for _, adapter := range registry.List() {
				if err := adapter.Connect(ctx); err != nil {
					cancel()
					return fmt.Errorf("connect %s: %w", adapter.Type(), err)
				}
				log.Info("channel adapter connected", slog.String("type", string(adapter.Type())))
			}
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			var firstErr error
			for _, adapter := range registry.List() {
				if err := adapter.Stop(stopCtx); err != nil && firstErr == nil {
					firstErr = err
				}
			}
			return firstErr
		},
	})
}

func startKeyRotation(lc fx.Lifecycle, log *slog.Logger, keyring *auth.Keyring, cfg config.Config) error {
	spec := cfg.Auth.KeyRotationSpec
	scheduler, err := keyring.StartRotation(spec)
	if err != nil {
		return err
	}
	log.Info("key rotation scheduled", slog.String("spec", spec))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			scheduler.Stop()
			return nil
		},
	})
	return nil
}

func startServer(lc fx.Lifecycle, shutdowner fx.Shutdowner, log *slog.Logger, srv *server.Server) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			fmt.Printf("Starting Courier %s\n", version.GetInfo())
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			return srv.Close()
		},
	})
}
