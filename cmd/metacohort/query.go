package main

import (
	"context"
	"fmt"
	"time"

	"metacohort/pkg/config"
	"metacohort/pkg/remote"
	"metacohort/pkg/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// session is a client for the enterprise view of a running member.
type session struct {
	cfg    *config.Config
	client *remote.Client
	pool   *remote.ConnectionPool
	logger *zap.Logger
}

func (s *session) Close() {
	if err := s.pool.Close(); err != nil {
		s.logger.Debug("Failed to close connection pool", zap.Error(err))
	}
	_ = s.logger.Sync()
}

func addServerFlag(cmd *cobra.Command) {
	cmd.Flags().StringP("server", "s", ":7071", "enterprise address of a cohort member")
}

func openSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd, map[string]string{"server": "member.enterprise_address"})
	if err != nil {
		return nil, err
	}
	if cfg.Member.EnterpriseAddress == "" {
		return nil, fmt.Errorf("no enterprise address to query")
	}

	logger := setupLogger(verbose, cfg.Level())
	creds, err := cfg.TLS.ClientCredentials()
	if err != nil {
		return nil, fmt.Errorf("failed to build client TLS config: %w", err)
	}
	poolCfg := cfg.PoolConfig()
	poolCfg.Credentials = creds
	pool := remote.NewConnectionPool(poolCfg, logger.Named("pool"))

	client := remote.NewClient(dialAddress(cfg.Member.EnterpriseAddress), pool,
		remote.WithRetrier(remote.NewRetrier(cfg.RetryConfig(), logger.Named("retry"))),
		remote.WithCallTimeout(cfg.Remote.CallTimeout),
		remote.WithClientLogger(logger))
	return &session{cfg: cfg, client: client, pool: pool, logger: logger}, nil
}

func (s *session) user() string { return s.cfg.Member.UserID }

func getCmd() *cobra.Command {
	var asOf string

	cmd := &cobra.Command{
		Use:   "get <guid>",
		Short: "Show an entity from any member of the cohort",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			var entity *types.EntityDetail
			if asOf != "" {
				at, err := time.Parse(time.RFC3339, asOf)
				if err != nil {
					return fmt.Errorf("invalid --as-of time: %w", err)
				}
				entity, err = s.client.GetEntityDetailAsOf(ctx, s.user(), args[0], at)
				if err != nil {
					return err
				}
			} else if entity, err = s.client.GetEntityDetail(ctx, s.user(), args[0]); err != nil {
				return err
			}
			if entity == nil {
				return fmt.Errorf("entity %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEntity(entity))
			return nil
		},
	}

	addServerFlag(cmd)
	cmd.Flags().StringVar(&asOf, "as-of", "", "show the entity as it was at this RFC 3339 time")
	return cmd
}

func findCmd() *cobra.Command {
	var (
		typeName string
		match    string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "find",
		Short: "Search entities across the cohort by property value",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			q := types.ValueQuery{SearchCriteria: match}
			q.PageSize = limit
			if typeName != "" {
				guid, err := s.typeGUID(ctx, typeName)
				if err != nil {
					return err
				}
				q.TypeGUID = guid
			}

			entities, err := s.client.FindEntitiesByPropertyValue(ctx, s.user(), q)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderEntities(entities))
			return nil
		},
	}

	addServerFlag(cmd)
	cmd.Flags().StringVarP(&typeName, "type", "t", "", "limit results to this entity type and its subtypes")
	cmd.Flags().StringVarP(&match, "match", "m", ".*", "regular expression any string property must match")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of results (0 for all)")
	return cmd
}

func (s *session) typeGUID(ctx context.Context, name string) (string, error) {
	def, err := s.client.GetTypeDefByName(ctx, s.user(), name)
	if err != nil {
		return "", err
	}
	if def == nil {
		return "", fmt.Errorf("type %s not found", name)
	}
	return def.GUID, nil
}

func typesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "types [name-regex]",
		Short: "List the type definitions known to the cohort",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			var gallery *types.TypeDefGallery
			if len(args) == 1 {
				gallery, err = s.client.FindTypesByName(ctx, s.user(), args[0])
			} else {
				gallery, err = s.client.GetAllTypes(ctx, s.user())
			}
			if err != nil {
				return err
			}

			var defs []*types.TypeDef
			if gallery != nil {
				defs = gallery.TypeDefs
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTypes(defs))
			return nil
		},
	}

	addServerFlag(cmd)
	return cmd
}
