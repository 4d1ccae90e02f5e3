package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metacohort/pkg/config"
	"metacohort/pkg/federation"
	"metacohort/pkg/memory"
	"metacohort/pkg/remote"
	"metacohort/pkg/repository"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a cohort member",
		Long: `Serve the local metadata collection to the other cohort members, probe the
configured peers and expose the enterprise view on the enterprise address.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, map[string]string{
				"collection-id": "member.collection_id",
				"name":          "member.name",
				"listen":        "member.listen_address",
				"enterprise":    "member.enterprise_address",
				"peer":          "peers",
				"metrics-addr":  "metrics.address",
			})
			if err != nil {
				return err
			}
			logger := setupLogger(verbose, cfg.Level())
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMember(ctx, cfg, logger)
		},
	}

	cmd.Flags().String("collection-id", "", "metadata collection id of this member (generated when empty)")
	cmd.Flags().String("name", "", "display name of this member")
	cmd.Flags().StringP("listen", "l", ":7070", "address other members reach the local collection on")
	cmd.Flags().String("enterprise", ":7071", "address the enterprise view is served on (empty disables it)")
	cmd.Flags().StringSliceP("peer", "p", nil, "address of another cohort member (repeatable)")
	cmd.Flags().String("metrics-addr", ":9090", "metrics listen address (empty disables it)")

	return cmd
}

// runMember serves until ctx ends or a listener fails.
func runMember(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger = logger.With(zap.String("collection_id", cfg.Member.CollectionID))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := federation.NewMetrics(registry)
	auditor := federation.NewLogAuditor(logger)

	local := memory.New(cfg.Member.CollectionID,
		memory.WithName(cfg.Member.Name),
		memory.WithLogger(logger.Named("local")))
	if err := local.AddTypeDefGallery(ctx, cfg.Member.UserID, memory.BaseTypes()); err != nil {
		return fmt.Errorf("failed to load base types: %w", err)
	}

	opts := append(cfg.FederationOptions(),
		federation.WithLogger(logger.Named("enterprise")),
		federation.WithMetrics(metrics),
		federation.WithAuditor(auditor))
	ec := federation.NewEnterpriseCollection(cfg.Member.CollectionID, opts...)
	ec.SetLocalConnector(cfg.Member.CollectionID, local)

	creds, err := cfg.TLS.ClientCredentials()
	if err != nil {
		return fmt.Errorf("failed to build client TLS config: %w", err)
	}
	poolCfg := cfg.PoolConfig()
	poolCfg.Credentials = creds
	pool := remote.NewConnectionPool(poolCfg, logger.Named("pool"))
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("Failed to close connection pool", zap.Error(err))
		}
	}()

	dialer := remote.NewDialer(pool,
		remote.WithRetrier(remote.NewRetrier(cfg.RetryConfig(), logger.Named("retry"))),
		remote.WithCallTimeout(cfg.Remote.CallTimeout),
		remote.WithClientLogger(logger.Named("client")))
	ms := federation.NewMembership(ec, dialer, cfg.MembershipConfig(),
		federation.WithMembershipLogger(logger.Named("membership")),
		federation.WithMembershipMetrics(metrics),
		federation.WithMembershipAuditor(auditor))
	for _, peer := range cfg.Peers {
		ms.AddPeer(peer)
	}

	errCh := make(chan error, 2)
	memberSrv, err := listenAndServe(local, cfg.Member.ListenAddress, cfg.TLS, logger.Named("member"), errCh)
	if err != nil {
		return err
	}
	defer memberSrv.Stop()

	if cfg.Member.EnterpriseAddress != "" {
		enterpriseSrv, err := listenAndServe(ec, cfg.Member.EnterpriseAddress, cfg.TLS, logger.Named("enterprise"), errCh)
		if err != nil {
			return err
		}
		defer enterpriseSrv.Stop()
	}

	if cfg.Metrics.Address != "" {
		metricsSrv := federation.StartMetricsServer(cfg.Metrics.Address, registry, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	ms.Start()
	defer ec.DisconnectAllConnectors()
	defer ms.Stop()

	logger.Info("Cohort member started",
		zap.String("name", cfg.Member.Name),
		zap.String("listen", cfg.Member.ListenAddress),
		zap.String("enterprise", cfg.Member.EnterpriseAddress),
		zap.Strings("peers", cfg.Peers))

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

func listenAndServe(collection repository.MetadataCollection, addr string, tlsCfg remote.TLSConfig,
	logger *zap.Logger, errCh chan<- error) (*remote.Server, error) {
	srv, err := remote.NewServer(collection, tlsCfg, logger)
	if err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	go func() {
		if err := srv.Serve(lis); err != nil {
			errCh <- fmt.Errorf("server on %s: %w", addr, err)
		}
	}()
	return srv, nil
}
