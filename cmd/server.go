package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kychandar/evwire/broker"
	"github.com/kychandar/evwire/config"
	"github.com/kychandar/evwire/http"
	"github.com/kychandar/evwire/services"
	"github.com/kychandar/evwire/services/binderStore/valkey"
	"github.com/kychandar/evwire/services/channelLog/memory"
	natslog "github.com/kychandar/evwire/services/channelLog/nats"
	connwriter "github.com/kychandar/evwire/services/connWriter"
	metricsregistry "github.com/kychandar/evwire/services/metricsRegistry"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	slogctx "github.com/veqryn/slog-context"
)

var serveCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the event broker",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, env)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return startServer(ctx, cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func startServer(ctx context.Context, cfg *config.Config) error {
	logger, cleanup := NewAsyncLogger(cfg.Log.File, parseLevel(cfg.Log.Level))
	defer cleanup()
	ctx = slogctx.NewCtx(ctx, logger)

	hostName, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("hostname: %w", err)
	}
	metrics := metricsregistry.New(hostName)

	channelLog, err := newChannelLog(cfg)
	if err != nil {
		return err
	}
	defer channelLog.Close()

	store, err := valkey.NewValkeyStore(cfg)
	if err != nil {
		return fmt.Errorf("valkey: %w", err)
	}
	defer store.Close()

	b := broker.New(channelLog, store, store, metrics, brokerOptions(cfg)...)
	defer b.Close()

	writers := connwriter.NewConnWriterManager(cfg.Protocol.WriteQueueSize, metrics)
	defer writers.CloseAll()

	server := http.New(b, writers, metrics, logger, cfg)
	addChecks(server.GetHealthChecker(), channelLog, store)

	logger.InfoContext(ctx, "broker starting",
		"host", hostName,
		"storage", cfg.Storage.Provider,
		"protocol_version", cfg.Protocol.Version)
	return server.Start(ctx)
}

func brokerOptions(cfg *config.Config) []broker.Option {
	opts := []broker.Option{
		broker.WithVersion(cfg.Protocol.Version),
		broker.WithSubscriptionCredit(cfg.Protocol.SubscriptionCredit),
		broker.WithQueryCredit(cfg.Protocol.QueryCredit),
	}
	if len(cfg.Auth.Tokens) > 0 {
		opts = append(opts, broker.WithAuthenticator(broker.NewTokenAuthenticator(cfg.Auth.Tokens)))
	}
	return opts
}

// newChannelLog opens the configured channel log provider.
func newChannelLog(cfg *config.Config) (services.ChannelLog, error) {
	switch cfg.Storage.Provider {
	case config.StorageMemory:
		return memory.NewMemoryChannelLog(), nil
	case config.StorageNATS:
		storage := nats.FileStorage
		if cfg.Storage.StreamStorage == "memory" {
			storage = nats.MemoryStorage
		}
		var opts []nats.Option
		if tls := cfg.Storage.TLS; tls.Enabled {
			opts = append(opts, nats.ClientCert(tls.CertFile, tls.KeyFile))
			if tls.CAFile != "" {
				opts = append(opts, nats.RootCAs(tls.CAFile))
			}
		}
		log, err := natslog.NewNatsChannelLog(cfg.Storage.URL, storage, opts...)
		if err != nil {
			return nil, fmt.Errorf("channel log: %w", err)
		}
		return log, nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func addChecks(hc *http.HealthChecker, log services.ChannelLog, binders services.BinderStore) {
	hc.AddCheck("channel_log", func(ctx context.Context) error {
		_, err := log.ListChannels(ctx)
		return err
	})
	hc.AddCheck("binder_store", func(ctx context.Context) error {
		_, err := binders.ListBinders(ctx)
		return err
	})
}
