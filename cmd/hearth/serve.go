package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/hearth/internal/api"
	"github.com/samcharles93/hearth/internal/chat"
	"github.com/samcharles93/hearth/internal/inference"
	"github.com/samcharles93/hearth/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
		storeLimit  int64
		sampling    samplingOptions
		opts        chatOptions
	)
	flags := append(commonModelFlags(), sampling.flags()...)
	flags = append(flags, opts.flags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "listen address",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "read-timeout",
			Usage:       "read header timeout",
			Value:       30 * time.Second,
			Destination: &readTimeout,
		},
		&cli.Int64Flag{
			Name:        "store-limit",
			Usage:       "completions kept for retrieval",
			Value:       api.DefaultStoreLimit,
			Destination: &storeLimit,
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the chat and completion REST API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyModelConfig(cmd, fileConfig)
			applySamplingConfig(cmd, fileConfig, &sampling)
			applyChatConfig(cmd, fileConfig, &opts)
			applyServeConfig(cmd, fileConfig, &addr)
			log := logger.FromContext(ctx)

			o, err := openChat(ctx, sampling.seed, chat.WithBudget(int(opts.budget)))
			if err != nil {
				return err
			}
			defer func() { _ = o.Close() }()

			server := api.NewServer(api.Config{
				Chat:     o,
				Store:    api.NewCompletionStore(int(storeLimit)),
				Defaults: samplingDefaults(&sampling),
				Turn:     opts.turnConfig(&sampling),
				Log:      log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				log.Info("starting server", "address", addr)
				sc := echo.StartConfig{
					Address: addr,
					BeforeServeFunc: func(srv *http.Server) error {
						srv.ReadHeaderTimeout = readTimeout
						return nil
					},
				}
				return sc.Start(gctx, e)
			})
			g.Go(func() error {
				<-gctx.Done()
				o.Stop()
				return nil
			})
			return g.Wait()
		},
	}
}

// samplingDefaults exposes the sampler flags as request defaults, so API
// requests only override what they set.
func samplingDefaults(s *samplingOptions) inference.Defaults {
	maxTokens := int(s.maxTokens)
	topK := int(s.topK)
	return inference.Defaults{
		MaxTokens:     &maxTokens,
		Seed:          &s.seed,
		Temperature:   &s.temp,
		TopK:          &topK,
		TopP:          &s.topP,
		MinP:          &s.minP,
		RepeatPenalty: &s.repeatPenalty,
	}
}
