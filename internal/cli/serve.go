package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexflow/lexflow/internal/audit"
	"github.com/lexflow/lexflow/internal/calendar"
	"github.com/lexflow/lexflow/internal/channel"
	"github.com/lexflow/lexflow/internal/config"
	"github.com/lexflow/lexflow/internal/dispatch"
	"github.com/lexflow/lexflow/internal/engine"
	"github.com/lexflow/lexflow/internal/funnel"
	"github.com/lexflow/lexflow/internal/handoff"
	"github.com/lexflow/lexflow/internal/notify"
	"github.com/lexflow/lexflow/internal/orchestrator"
	"github.com/lexflow/lexflow/internal/provider"
	"github.com/lexflow/lexflow/internal/retrieval"
	"github.com/lexflow/lexflow/internal/sign"
	"github.com/lexflow/lexflow/internal/store"
	"github.com/lexflow/lexflow/internal/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server and funnel engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	primary := provider.NewOpenAIProvider("primary", cfg.Providers.Primary.APIKey,
		cfg.Providers.Primary.APIBase, cfg.Providers.Primary.Model)
	var secondary provider.ChatCompletionProvider
	if cfg.Providers.Secondary.APIKey != "" {
		secondary = provider.NewOpenAIProvider("secondary", cfg.Providers.Secondary.APIKey,
			cfg.Providers.Secondary.APIBase, cfg.Providers.Secondary.Model)
	}
	chain := provider.NewFallbackChain(primary, secondary, logger)

	ch := channel.NewClient(cfg.Channel)
	scheduler := calendar.NewScheduler(calendar.Unconfigured{}, cfg.Calendar)

	var signer sign.Service
	if cfg.Sign.BaseURL != "" {
		signer = sign.NewClient(cfg.Sign)
	}

	trail := audit.New(st, cfg.Audit, logger)
	defer trail.Close()

	dispatcher := dispatch.New(ch, st, cfg.Engine, logger)
	notifier := notify.New(st, ch, cfg.Notify, scheduler.Location(), logger)

	eng := engine.New(engine.Deps{
		Store:        st,
		Dispatcher:   dispatcher,
		Orchestrator: orchestrator.New(chain, scheduler, signer, logger),
		Classifier:   funnel.NewClassifier(chain, logger),
		Describer:    funnel.NewDescriber(st, chain, logger),
		Handoffs:     handoff.New(st, chain, ch, trail, cfg.Engine.GreetingDelay, logger),
		Retriever:    retrieval.New(st, primary, logger),
		Resolver:     webhook.NewResolver(ch, primary, chain, logger),
		Notifier:     notifier,
		Trail:        trail,
		Embedder:     primary,
		Config:       cfg.Engine,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	webhook.NewHandler(eng, logger).Register(mux)

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go dispatcher.RunDelayedWorker(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Webhook server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
