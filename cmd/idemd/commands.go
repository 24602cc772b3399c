package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ceyewan/idemguard/clog"
	"github.com/ceyewan/idemguard/internal/app"
	"github.com/ceyewan/idemguard/xerrors"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "idemd",
		Short:         "Idempotency-Key guarded blog service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default: idemd.yaml in . or ./configs)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newUnlockCommand(opts))
	return cmd
}

// withApp 加载配置并装配 App，fn 返回后释放资源
func withApp(ctx context.Context, opts *rootOptions, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := app.Load(ctx, opts.configPath)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			a.Logger.Error("close app failed", clog.Error(err))
		}
	}()
	return fn(ctx, a)
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				if migrate {
					if err := a.Migrate(ctx); err != nil {
						return err
					}
				}
				return a.Run(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "run migrations before serving")
	return cmd
}

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the blog and idempotency tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				return a.Migrate(ctx)
			})
		},
	}
}

func newUnlockCommand(opts *rootOptions) *cobra.Command {
	var id uint64
	cmd := &cobra.Command{
		Use:   "unlock",
		Short: "Clear the lock of a record left behind by a crashed executor",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if id == 0 {
				return xerrors.New("--id is required")
			}
			return withApp(cmd.Context(), opts, func(ctx context.Context, a *app.App) error {
				if err := a.Guard.Store().Release(ctx, id); err != nil {
					return err
				}
				a.Logger.InfoContext(ctx, "record unlocked", clog.Uint64("id", id))
				fmt.Fprintf(cmd.OutOrStdout(), "record %d unlocked\n", id)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&id, "id", 0, "idempotent request record id")
	return cmd
}
