// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the minigem command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string

	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "minigem",
	Short: "Chat with Gemini models from the terminal",
	Long: `minigem is a terminal client for the Gemini API.

Chats, settings and attachments are stored locally. Replies stream as they
are generated, and any message can be edited and retried, branched into a
new chat, or deleted together with its reply.

Quick Start:
  minigem setup                 # Save your API key
  minigem chat                  # Start the interactive chat
  minigem ask "hello there"     # One-shot question
  minigem list                  # List saved chats`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.minigem/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, ErrorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

// interruptible returns a context cancelled by Ctrl+C. Streaming commands use
// it so an interrupt stops the reply rather than the process.
func interruptible(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt)
}

// withApp opens the app for the duration of fn.
func withApp(ctx context.Context, fn func(*App) error) error {
	app, err := OpenApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}
