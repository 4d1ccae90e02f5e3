package main

import (
	"fmt"

	"metacohort/pkg/federation"
	"metacohort/pkg/remote"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Probe the cohort members and show which are reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, map[string]string{
				"listen": "member.listen_address",
				"peer":   "peers",
			})
			if err != nil {
				return err
			}
			logger := setupLogger(verbose, cfg.Level())
			defer logger.Sync()

			creds, err := cfg.TLS.ClientCredentials()
			if err != nil {
				return fmt.Errorf("failed to build client TLS config: %w", err)
			}
			poolCfg := cfg.PoolConfig()
			poolCfg.Credentials = creds
			pool := remote.NewConnectionPool(poolCfg, logger.Named("pool"))
			defer pool.Close()

			// One attempt per member, and one failure marks it dead.
			retryCfg := cfg.RetryConfig()
			retryCfg.MaxRetries = 0
			dialer := remote.NewDialer(pool,
				remote.WithRetrier(remote.NewRetrier(retryCfg, logger.Named("retry"))),
				remote.WithCallTimeout(cfg.Membership.CallTimeout))

			view := federation.NewEnterpriseCollection("status", federation.WithLogger(logger))
			defer view.DisconnectAllConnectors()

			membershipCfg := cfg.MembershipConfig()
			membershipCfg.SuspectAfter = 1
			membershipCfg.DeadAfter = 1
			ms := federation.NewMembership(view, dialer, membershipCfg, federation.WithMembershipLogger(logger))
			ms.AddPeer(dialAddress(cfg.Member.ListenAddress))
			for _, peer := range cfg.Peers {
				ms.AddPeer(peer)
			}
			ms.ProbeOnce(cmd.Context())

			peers := ms.Peers()
			out := lipgloss.JoinVertical(lipgloss.Left,
				renderSummary(peers, view.Registry().Len()),
				renderPeers(peers))
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}

	cmd.Flags().StringP("listen", "l", ":7070", "member address of the local member")
	cmd.Flags().StringSliceP("peer", "p", nil, "address of another cohort member (repeatable)")
	return cmd
}
