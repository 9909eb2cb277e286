// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/aiku/tavern-bridge/pkg/config"
	"github.com/aiku/tavern-bridge/pkg/tavern"
)

type rootOptions struct {
	configPath string
	noUpdate   bool
}

func newRoot() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "tavern-bridge",
		Short:        "Mirror chat conversations into tavern chat logs",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to the config file")
	root.PersistentFlags().BoolVar(&opts.noUpdate, "no-update", false, "don't create or update the config file")

	root.AddCommand(newRunCommand(opts))
	root.AddCommand(newSanitizeCommand())
	root.AddCommand(newRecentCommand(opts))
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads .env when present and then the config file.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return config.Load(o.configPath, !o.noUpdate, nil)
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			log, err := cfg.Logging.Compile()
			if err != nil {
				return fmt.Errorf("configure logging: %w", err)
			}
			log.Info().
				Str("version", Tag).
				Str("commit", Commit).
				Str("built", BuildTime).
				Msg("Starting tavern-bridge")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runBridge(ctx, cfg, *log)
		},
	}
}

func newSanitizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <conversation>...",
		Short: "Print the character and chat file names used for conversations",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, id := range args {
				character, file := tavern.SanitizeNames(id)
				cmd.Printf("%s\tcharacter=%s\tfile=%s\n", id, character, file)
			}
		},
	}
}

func newRecentCommand(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "recent <conversation>",
		Short: "List the most recent chat files of a conversation (legacy api only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			client, err := tavern.NewClient(cfg.Tavern.BaseURL, tavern.Flavor(cfg.Tavern.APIFlavor),
				tavern.WithTimeout(cfg.TavernTimeout()))
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.TavernTimeout()+5*time.Second)
			defer cancel()

			character, _ := tavern.SanitizeNames(args[0])
			chats, err := client.RecentChats(ctx, tavern.AvatarURL(character), limit)
			if err != nil {
				return err
			}
			if len(chats) == 0 {
				cmd.Println("No chats found")
				return nil
			}
			for _, chat := range chats {
				cmd.Printf("%s\t%d messages\t%s\n", chat.FileName, chat.ChatItems, chat.MesPreview)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "max", 10, "maximum number of chats to list")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("tavern-bridge %s (commit %s, built %s)\n", Tag, Commit, BuildTime)
		},
	}
}
