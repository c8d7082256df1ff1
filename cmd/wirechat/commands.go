package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-client/internal/app"
	"github.com/vovakirdan/wirechat-client/internal/auth"
	"github.com/vovakirdan/wirechat-client/internal/log"
)

func newChatCmd(flags *rootFlags) *cobra.Command {
	var room string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a room and chat from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if cfg.Token == "" {
				return errors.New("no token configured; run `wirechat token` or set WIRECHAT_TOKEN")
			}

			c, err := app.NewClient(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			return c.Chat(cmd.Context(), room, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&room, "room", "general", "room to join")
	return cmd
}

func newHistoryCmd(flags *rootFlags) *cobra.Command {
	var (
		room  string
		pages int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print a room's history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}

			c, err := app.NewClient(cfg, logger)
			if err != nil {
				return err
			}
			defer c.Close()

			return c.History(cmd.Context(), room, pages, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&room, "room", "general", "room to print")
	cmd.Flags().IntVar(&pages, "pages", 0, "older pages to fetch after the latest one")
	return cmd
}

func newDevServerCmd(flags *rootFlags) *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "devserver",
		Short: "Run the local development chat server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}

			a, err := app.NewDevServer(cfg.DevServer, dbPath, logger)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "wirechat-dev.db", "SQLite database path")
	return cmd
}

func newTokenCmd(flags *rootFlags) *cobra.Command {
	var (
		userID   string
		username string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development token signed with the devserver secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := flags.load()
			if err != nil {
				return err
			}
			if userID == "" {
				return errors.New("--user is required")
			}

			token, err := auth.GenerateToken(&auth.JWTConfig{
				Secret: []byte(cfg.DevServer.JWTSecret),
				TTL:    ttl,
			}, userID, username)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			log.Component(logger, "token").Debug().Str("user_id", userID).Dur("ttl", ttl).Msg("token issued")
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&username, "name", "", "display name")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
