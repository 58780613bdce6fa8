// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Non-interactive chat commands: ask, list, show, export, delete.

package cli

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/minigem/internal/chat"
	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/storage"
	"github.com/jeranaias/minigem/internal/util"
)

var (
	askAttach    []string
	exportFormat string
	exportOutput string
	deleteYes    bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt]",
	Short: "Ask a one-shot question in a new chat",
	Long: `Ask a question in a new chat and stream the reply to stdout.

The prompt is read from stdin when no arguments are given and stdin is not a
terminal. The chat is saved and can be continued with "minigem chat".`,
	Example: `  minigem ask "Explain goroutines in one paragraph"
  minigem ask --attach diagram.png "What does this show?"
  cat notes.txt | minigem ask`,
	RunE: func(cmd *cobra.Command, args []string) error {
		prompt := strings.Join(args, " ")
		if prompt == "" && !IsTTY() {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			prompt = string(data)
		}
		return withApp(cmd.Context(), func(app *App) error {
			return runAsk(cmd.Context(), app, cmd.OutOrStdout(), prompt, askAttach)
		})
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List saved chats",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			writeChatList(cmd.OutOrStdout(), app.Store.Snapshot())
			return nil
		})
	},
}

var showCmd = &cobra.Command{
	Use:   "show [N|ID]",
	Short: "Print a chat (default: the current one)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			c, err := pickChat(app.Store.Snapshot(), args)
			if err != nil {
				return err
			}
			md := storage.ExportMarkdown(c)
			if IsStdoutTTY() {
				md = RenderMarkdown(md)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), md)
			return err
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [N|ID]",
	Short: "Export a chat as Markdown, JSON or YAML",
	Example: `  minigem export --format json 2
  minigem export -o chat.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			c, err := pickChat(app.Store.Snapshot(), args)
			if err != nil {
				return err
			}
			return exportChat(cmd.OutOrStdout(), c, exportFormat, exportOutput)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:     "delete N|ID",
	Aliases: []string{"rm"},
	Short:   "Delete a chat and its attachments",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(app *App) error {
			c, err := resolveChat(app.Store.Snapshot(), args[0])
			if err != nil {
				return err
			}
			if !deleteYes {
				if err := RequiresTTY("confirm deletion", "pass --yes"); err != nil {
					return err
				}
				if !confirmStdin(cmd.OutOrStdout(), fmt.Sprintf("Delete chat %q?", c.Title)) {
					return nil
				}
			}
			if err := app.Store.DeleteChat(cmd.Context(), c.ID); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), SuccessStyle.Render("Deleted "+c.Title))
			return nil
		})
	},
}

func init() {
	askCmd.Flags().StringArrayVarP(&askAttach, "attach", "a", nil, "attach an image or PDF (repeatable)")
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", storage.FormatMarkdown, "output format: md, json, yaml")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write to file instead of stdout")
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "do not ask for confirmation")

	rootCmd.AddCommand(askCmd, listCmd, showCmd, exportCmd, deleteCmd)
}

// runAsk sends prompt in a fresh chat and streams the reply to w.
func runAsk(ctx context.Context, app *App, w io.Writer, prompt string, attach []string) error {
	if err := app.requireAPIKey(); err != nil {
		return err
	}
	if strings.TrimSpace(prompt) == "" && len(attach) == 0 {
		return chat.ErrEmptyMessage
	}

	refs := make([]model.AttachmentRef, 0, len(attach))
	for _, path := range attach {
		ref, err := stageFile(ctx, app.Blobs, expandHome(path))
		if err != nil {
			return err
		}
		refs = append(refs, ref)
	}

	if _, err := app.Store.NewChat(); err != nil {
		return err
	}
	printer := newStreamPrinter(w)
	defer app.Store.Subscribe(printer.Observe)()

	genCtx, stop := interruptible(ctx)
	defer stop()
	if err := app.Store.SendMessage(genCtx, prompt, refs); err != nil {
		return err
	}
	app.Store.Wait()

	if msg := app.Store.Snapshot().Err; msg != "" {
		return errors.New(msg)
	}
	return nil
}

// pickChat resolves an optional chat argument, defaulting to the active chat.
func pickChat(st chat.State, args []string) (model.Chat, error) {
	if len(args) > 0 {
		return resolveChat(st, args[0])
	}
	c, ok := st.ActiveChat()
	if !ok {
		return model.Chat{}, chat.ErrNoActiveChat
	}
	return c, nil
}

// exportChat writes c to path, or to w when path is empty.
func exportChat(w io.Writer, c model.Chat, format, path string) error {
	var buf bytes.Buffer
	if err := storage.Export(&buf, c, format); err != nil {
		return err
	}
	if path == "" {
		_, err := w.Write(buf.Bytes())
		return err
	}
	if err := util.AtomicWriteFile(expandHome(path), buf.Bytes(), 0644); err != nil {
		return err
	}
	fmt.Fprintln(w, SuccessStyle.Render("Exported to "+path))
	return nil
}

// confirmStdin asks a yes/no question on stdin.
func confirmStdin(w io.Writer, question string) bool {
	fmt.Fprint(w, question+" [y/N] ")
	answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
