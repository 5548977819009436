package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"fxmargin/internal/app"
	"fxmargin/internal/auth"
	"fxmargin/internal/config"
	"fxmargin/internal/db"
	"fxmargin/internal/logger"
	"fxmargin/internal/marketdata"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:           "fxctl",
		Short:         "Operator tool for the fxmargin engine",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if envFile == "" {
				return config.LoadDotEnv()
			}
			return config.LoadDotEnv(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env)")

	root.AddCommand(
		newMigrateCmd(),
		newTokenCmd(),
		newPairsCmd(),
		newQuoteCmd(),
		newTickCmd(),
	)
	return root
}

func newMigrateCmd() *cobra.Command {
	var dsn string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				dsn = os.Getenv("DB_DSN")
			}
			if dsn == "" {
				return fmt.Errorf("DB_DSN or --dsn is required")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			pool, err := db.NewPool(ctx, dsn)
			if err != nil {
				return err
			}
			defer pool.Close()
			if err := db.Migrate(ctx, pool); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", "", "postgres DSN (default $DB_DSN)")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var userID string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a development bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, issuer := os.Getenv("JWT_SECRET"), os.Getenv("JWT_ISSUER")
			if secret == "" || issuer == "" {
				return fmt.Errorf("JWT_SECRET and JWT_ISSUER are required")
			}
			tok, err := auth.NewTokens(issuer, []byte(secret), ttl).Sign(userID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id to put in the subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newPairsCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "pairs",
		Short: "List the pair catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = os.Getenv("PAIRS_FILE")
			}
			catalog, err := marketdata.LoadCatalog(file)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s %7s %8s %8s %9s %9s %s\n", "SYMBOL", "SPREAD", "MAX_LEV", "MAX_VOL", "SWAP_L", "SWAP_S", "ENABLED")
			for _, p := range catalog.All() {
				fmt.Fprintf(out, "%-8s %7s %8d %8s %9s %9s %t\n",
					p.Symbol, p.Spread.String(), p.MaxLeverage, p.MaxVolume.String(), p.SwapLong.String(), p.SwapShort.String(), p.Enabled)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "pairs YAML (default $PAIRS_FILE or the built-in catalog)")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL",
		Short: "Print the bid/ask the static feed would quote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := marketdata.LoadCatalog(os.Getenv("PAIRS_FILE"))
			if err != nil {
				return err
			}
			src := marketdata.NewQuoteSource(catalog, marketdata.NewStaticFeed(marketdata.DefaultMids()))
			q, err := src.Quote(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s bid=%s ask=%s spread=%s\n", q.Symbol, q.Bid.String(), q.Ask.String(), q.SpreadPips.String())
			return nil
		},
	}
}

func newTickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run one reprice and margin supervision pass",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			log := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			slog.SetDefault(log)
			a, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Engine.RunOnce(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "tick complete")
			return nil
		},
	}
}
