// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// setup.go - API key setup, configuration and attachment maintenance commands.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/jeranaias/minigem/internal/config"
	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/util"
)

var (
	configForce   bool
	cleanupAge    int
	cleanupDryRun bool
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Save your Gemini API key",
	Long: `Save your Gemini API key.

The key is read without echo when stdin is a terminal, otherwise from the
first line of stdin. Get a key at https://aistudio.google.com/apikey.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := readAPIKey(cmd.OutOrStdout(), os.Stdin)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(app *App) error {
			if err := app.Store.SetAPIKey(cmd.Context(), key); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("API key saved: "+app.Store.Snapshot().Settings.MaskedAPIKey()))
			return nil
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or initialize the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration and chat settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, TitleStyle.Render("Config")+" "+DimStyle.Render(app.ConfigPath))
			fmt.Fprintln(w, app.Config.String())
			writeSettings(w, app.Store.Snapshot().Settings)
			return nil
		})
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.ConfigPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Wrote "+path))
		return nil
	},
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "Inspect and clean up stored attachments",
}

var filesUsageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show how much space attachments use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			u, err := app.Blobs.Usage(cmd.Context())
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, RenderLabel("Files", fmt.Sprint(u.Count)))
			fmt.Fprintln(w, RenderLabel("Size", util.FormatBytes(u.Bytes)))
			return nil
		})
	},
}

var filesCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete old attachments no chat refers to",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			days := cleanupAge
			if days <= 0 {
				days = app.Config.Files.MaxAgeDays
			}
			keep := referencedBlobs(app.Store.Snapshot().Chats)
			if cleanupDryRun {
				refs, err := app.Blobs.List(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d files are unreferenced\n", len(refs)-countKept(refs, keep), len(refs))
				return nil
			}
			n, err := app.Blobs.Cleanup(cmd.Context(), time.Duration(days)*24*time.Hour, keep)
			if err != nil {
				return err
			}
			app.Log.Info("attachment cleanup", "removed", n, "max_age_days", days)
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render(fmt.Sprintf("Removed %d file(s) older than %d days.", n, days)))
			return nil
		})
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	filesCleanupCmd.Flags().IntVar(&cleanupAge, "max-age", 0, "age in days (default from config, 30)")
	filesCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "only count unreferenced files")

	configCmd.AddCommand(configShowCmd, configInitCmd)
	filesCmd.AddCommand(filesUsageCmd, filesCleanupCmd)
	rootCmd.AddCommand(setupCmd, configCmd, filesCmd)
}

// readAPIKey prompts for a key without echo on a terminal, otherwise reads
// one line from r.
func readAPIKey(w io.Writer, r io.Reader) (string, error) {
	var key string
	if f, ok := r.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(w, "Gemini API key: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(w)
		if err != nil {
			return "", err
		}
		key = string(b)
	} else {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		key = line
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("no API key entered")
	}
	return key, nil
}

// referencedBlobs collects the IDs of every attachment still used by a chat.
func referencedBlobs(chats []model.Chat) map[string]bool {
	keep := make(map[string]bool)
	for _, c := range chats {
		for _, ref := range c.AttachmentRefs() {
			keep[ref.ID] = true
		}
	}
	return keep
}

func countKept(refs []model.AttachmentRef, keep map[string]bool) int {
	n := 0
	for _, r := range refs {
		if keep[r.ID] {
			n++
		}
	}
	return n
}

func writeSettings(w io.Writer, s model.Settings) {
	fmt.Fprintln(w, TitleStyle.Render("Settings"))
	fmt.Fprintln(w, RenderLabel("API key", s.MaskedAPIKey()))
	fmt.Fprintln(w, RenderLabel("Model", s.SelectedModel))
	effort, err := model.ReasoningValue(s.Tier(), s.SelectedModel)
	thinking := string(s.Tier())
	if err == nil {
		thinking += " (" + effort.String() + " tokens)"
	}
	fmt.Fprintln(w, RenderLabel("Thinking", thinking))
	fmt.Fprintln(w, RenderLabel("Temperature", fmt.Sprintf("%.2f", s.Temperature)))
	fmt.Fprintln(w, RenderLabel("Style", string(s.DisplayStyle())))
	fmt.Fprintln(w, RenderLabel("Mode", string(s.SettingsMode)))
}
