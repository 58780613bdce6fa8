// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command.
//
// Command: chat
// Short:   Start an interactive chat session
//
// Interactive Commands (during chat):
//   /new                 Start a new chat
//   /list                List chats
//   /switch N|ID         Switch to another chat
//   /rename TITLE        Rename the current chat
//   /delete [N]          Delete the current chat, or message N with its reply
//   /branch N            Copy the chat up to message N into a new chat
//   /edit N TEXT         Replace message N and regenerate its reply
//   /retry [N]           Regenerate the reply to message N (default: last)
//   /history             Show the current chat
//   /model [ID]          Show or switch model
//   /effort [TIER]       Show or set the thinking tier for the current model
//   /temp [VALUE]        Show or set the temperature
//   /style [NAME]        Show or apply a response style
//   /mode [simple|simplest]
//   /attach [PATH]       Stage a file for the next message, or list staged files
//   /clear               Delete all chats, settings and attachments
//   /help, /quit
//   Ctrl+C               Cancel current generation
//   Ctrl+D               Exit chat

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/minigem/internal/config"
	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/util"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session.

Type a message and press Enter to send it. Lines starting with "/" are
commands; type /help to list them. Ctrl+C cancels the reply being
generated, Ctrl+D exits.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// =============================================================================
// LINE EDITING
// =============================================================================

// ChatCLI provides input history and line editing for interactive chat.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives in dataDir.
func NewChatCLI(dataDir string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(dataDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (c *ChatCLI) Confirm(question string) bool {
	answer, err := c.line.Prompt(question + " [y/N] ")
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// SaveHistory persists command history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and closes the liner.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

// =============================================================================
// SESSION
// =============================================================================

// errQuit ends the REPL.
var errQuit = errors.New("quit")

// session holds the REPL's per-run state.
type session struct {
	app     *App
	out     io.Writer
	confirm func(question string) bool

	// staged attachments go out with the next message.
	staged []model.AttachmentRef
}

func runChat(ctx context.Context) error {
	return withApp(ctx, func(app *App) error {
		if err := os.MkdirAll(app.Config.DataDir, 0700); err != nil {
			return err
		}
		input := NewChatCLI(app.Config.DataDir)
		defer input.Close()

		if w, err := config.Watch(app.ConfigPath, app.Log.Logger, func(c *config.Config) {
			level := c.Logging.Level
			if logLevel != "" {
				level = logLevel
			}
			app.Log.SetLevel(level)
			app.Log.Info("config reloaded", "log_level", level)
		}); err != nil {
			app.Log.Debug("config watcher disabled", "error", err)
		} else {
			defer w.Close()
		}

		s := &session{app: app, out: os.Stdout, confirm: input.Confirm}
		printer := newStreamPrinter(s.out)
		defer app.Store.Subscribe(printer.Observe)()

		s.printWelcome()
		for {
			line, err := input.ReadInput(PromptStyle.Render("you") + "> ")
			if err != nil {
				// Ctrl+C at the prompt, Ctrl+D or a closed stdin.
				fmt.Fprintln(s.out)
				return nil
			}
			if err := s.handle(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintln(os.Stderr, ErrorStyle.Render("[Error]"), err)
			}
		}
	})
}

// handle runs one line of input.
func (s *session) handle(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if strings.HasPrefix(line, "/") {
		name, args := parseSlash(line)
		cmd, ok := lookupSlash(name)
		if !ok {
			return fmt.Errorf("unknown command %s (try /help)", name)
		}
		return cmd.run(ctx, s, args)
	}

	if _, ok := s.app.Store.Snapshot().ActiveChat(); !ok {
		if _, err := s.app.Store.NewChat(); err != nil {
			return err
		}
	}
	return s.generate(ctx, func(ctx context.Context) error {
		if err := s.app.Store.SendMessage(ctx, line, s.staged); err != nil {
			return err
		}
		// The message owns the attachments now, even if the reply fails.
		s.staged = nil
		return nil
	})
}

// generate starts a reply with an interruptible context and blocks until it
// ends. Generation failures are reported from the store's error field.
func (s *session) generate(ctx context.Context, start func(context.Context) error) error {
	genCtx, stop := interruptible(ctx)
	defer stop()

	fmt.Fprint(s.out, AssistantRoleStyle.Render(model.RoleAssistant.DisplayName())+": ")
	if err := start(genCtx); err != nil {
		fmt.Fprintln(s.out)
		return err
	}
	s.app.Store.Wait()

	if msg := s.app.Store.Snapshot().Err; msg != "" {
		s.app.Store.ClearError()
		return errors.New(msg)
	}
	return nil
}

func (s *session) printWelcome() {
	st := s.app.Store.Snapshot()
	fmt.Fprintln(s.out, TitleStyle.Render("minigem "+version))
	fmt.Fprintln(s.out, RenderSeparator(40))
	fmt.Fprintln(s.out, RenderLabel("Model", st.Settings.SelectedModel))
	fmt.Fprintln(s.out, RenderLabel("Style", string(st.Settings.DisplayStyle())))
	if c, ok := st.ActiveChat(); ok {
		fmt.Fprintln(s.out, RenderLabel("Chat", c.Title))
	}
	if st.Settings.APIKey == "" {
		fmt.Fprintln(s.out, WarningStyle.Render(fmt.Sprintf(
			"No API key configured. Run \"minigem setup\" or set %s.", APIKeyEnv)))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

type slashCommand struct {
	usage string
	desc  string
	run   func(ctx context.Context, s *session, args string) error
}

var slashCommands map[string]slashCommand

var slashAliases = map[string]string{
	"/h":    "/help",
	"/q":    "/quit",
	"/exit": "/quit",
	"/n":    "/new",
	"/l":    "/list",
	"/ls":   "/list",
	"/s":    "/switch",
}

func init() {
	slashCommands = map[string]slashCommand{
		"/new":     {"/new", "Start a new chat", cmdNew},
		"/list":    {"/list", "List chats", cmdList},
		"/switch":  {"/switch N|ID", "Switch to another chat", cmdSwitch},
		"/rename":  {"/rename TITLE", "Rename the current chat", cmdRename},
		"/delete":  {"/delete [N]", "Delete the chat, or message N and its reply", cmdDelete},
		"/branch":  {"/branch N", "Copy the chat up to message N into a new chat", cmdBranch},
		"/edit":    {"/edit N TEXT", "Replace message N and regenerate", cmdEdit},
		"/retry":   {"/retry [N]", "Regenerate the reply to message N", cmdRetry},
		"/history": {"/history", "Show the current chat", cmdHistory},
		"/model":   {"/model [ID]", "Show or switch model", cmdModel},
		"/effort":  {"/effort [TIER]", "Show or set the thinking tier", cmdEffort},
		"/temp":    {"/temp [VALUE]", "Show or set the temperature", cmdTemp},
		"/style":   {"/style [NAME]", "Show or apply a response style", cmdStyle},
		"/mode":    {"/mode [simple|simplest]", "Show or set the settings mode", cmdMode},
		"/attach":  {"/attach [PATH]", "Stage a file for the next message", cmdAttach},
		"/clear":   {"/clear", "Delete all chats, settings and files", cmdClear},
		"/help":    {"/help", "Show this help", cmdHelp},
		"/quit":    {"/quit", "Exit chat", cmdQuit},
	}
}

// parseSlash splits "/cmd rest of line" into its name and argument string.
func parseSlash(line string) (name, args string) {
	line = strings.TrimSpace(line)
	name, args, _ = strings.Cut(line, " ")
	return strings.ToLower(name), strings.TrimSpace(args)
}

func lookupSlash(name string) (slashCommand, bool) {
	if alias, ok := slashAliases[name]; ok {
		name = alias
	}
	cmd, ok := slashCommands[name]
	return cmd, ok
}

// parseIndex reads a 1-based message number.
func parseIndex(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("expected a message number, got %q", arg)
	}
	return n, nil
}

func (s *session) activeChat() (model.Chat, error) {
	c, ok := s.app.Store.Snapshot().ActiveChat()
	if !ok {
		return model.Chat{}, errors.New("no chat selected (send a message or use /new)")
	}
	return c, nil
}

func cmdNew(_ context.Context, s *session, _ string) error {
	if _, err := s.app.Store.NewChat(); err != nil {
		return err
	}
	s.staged = nil
	fmt.Fprintln(s.out, SuccessStyle.Render("Started a new chat."))
	return nil
}

func cmdList(_ context.Context, s *session, _ string) error {
	writeChatList(s.out, s.app.Store.Snapshot())
	return nil
}

func cmdSwitch(ctx context.Context, s *session, args string) error {
	if args == "" {
		return errors.New("usage: /switch N|ID")
	}
	c, err := resolveChat(s.app.Store.Snapshot(), args)
	if err != nil {
		return err
	}
	if err := s.app.Store.SelectChat(ctx, c.ID); err != nil {
		return err
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("Switched to "+c.Title))
	return nil
}

func cmdRename(ctx context.Context, s *session, args string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	return s.app.Store.RenameChat(ctx, c.ID, args)
}

func cmdDelete(ctx context.Context, s *session, args string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	if args == "" {
		if !s.confirm(fmt.Sprintf("Delete chat %q?", c.Title)) {
			return nil
		}
		if err := s.app.Store.DeleteChat(ctx, c.ID); err != nil {
			return err
		}
		fmt.Fprintln(s.out, SuccessStyle.Render("Chat deleted."))
		return nil
	}
	n, err := parseIndex(args)
	if err != nil {
		return err
	}
	m, _, err := userMessageAt(c, n)
	if err != nil {
		return err
	}
	if err := s.app.Store.DeleteMessage(ctx, c.ID, m.ID); err != nil {
		return err
	}
	fmt.Fprintf(s.out, "%s\n", SuccessStyle.Render(fmt.Sprintf("Message %d deleted.", n)))
	return nil
}

func cmdBranch(ctx context.Context, s *session, args string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	n, err := parseIndex(args)
	if err != nil {
		return err
	}
	_, i, err := userMessageAt(c, n)
	if err != nil {
		return err
	}
	// Branch at the reply when there is one so the pair is kept whole.
	at := c.Messages[c.PairEnd(i)-1]
	if _, err := s.app.Store.BranchChat(ctx, at.ID); err != nil {
		return err
	}
	fmt.Fprintln(s.out, SuccessStyle.Render(fmt.Sprintf("Branched at message %d.", n)))
	return nil
}

func cmdEdit(ctx context.Context, s *session, args string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	num, text := parseSlash("/" + args)
	n, err := parseIndex(strings.TrimPrefix(num, "/"))
	if err != nil {
		return errors.New("usage: /edit N TEXT")
	}
	m, _, err := userMessageAt(c, n)
	if err != nil {
		return err
	}
	params := s.app.Store.Snapshot().Settings.Params()
	return s.generate(ctx, func(ctx context.Context) error {
		return s.app.Store.EditAndRetry(ctx, m.ID, text, m.Attachments, params)
	})
}

func cmdRetry(ctx context.Context, s *session, args string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	var m model.Message
	if args == "" {
		var ok bool
		if m, ok = lastUserMessage(c); !ok {
			return errors.New("nothing to retry")
		}
	} else {
		n, err := parseIndex(args)
		if err != nil {
			return err
		}
		if m, _, err = userMessageAt(c, n); err != nil {
			return err
		}
	}
	params := s.app.Store.Snapshot().Settings.Params()
	return s.generate(ctx, func(ctx context.Context) error {
		return s.app.Store.Retry(ctx, m.ID, params)
	})
}

func cmdHistory(_ context.Context, s *session, _ string) error {
	c, err := s.activeChat()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, TitleStyle.Render(c.Title))
	fmt.Fprintln(s.out, RenderSeparator(util.StringWidth(c.Title)))
	writeHistory(s.out, c)
	return nil
}

func cmdModel(ctx context.Context, s *session, args string) error {
	if args == "" {
		st := s.app.Store.Snapshot()
		fmt.Fprintln(s.out, RenderLabel("Model", st.Settings.SelectedModel))
		fmt.Fprint(s.out, model.DescribeModels())
		return nil
	}
	if err := s.app.Store.SetModel(ctx, args); err != nil {
		return err
	}
	fmt.Fprintln(s.out, SuccessStyle.Render("Model set to "+args))
	return nil
}

func cmdEffort(ctx context.Context, s *session, args string) error {
	st := s.app.Store.Snapshot()
	id := st.Settings.SelectedModel
	info, _ := model.LookupModel(id)
	if args == "" {
		effort, _ := info.Reasoning(st.Settings.Tier())
		fmt.Fprintln(s.out, RenderLabel("Thinking", fmt.Sprintf("%s (%s tokens)", st.Settings.Tier(), effort)))
		var tiers []string
		for _, t := range info.AvailableTiers() {
			tiers = append(tiers, string(t))
		}
		fmt.Fprintln(s.out, RenderLabel("Available", strings.Join(tiers, ", ")))
		return nil
	}
	return s.app.Store.SetThinkingBudget(ctx, id, model.Tier(strings.ToLower(args)))
}

func cmdTemp(ctx context.Context, s *session, args string) error {
	if args == "" {
		fmt.Fprintln(s.out, RenderLabel("Temperature", fmt.Sprintf("%.2f", s.app.Store.Snapshot().Settings.Temperature)))
		return nil
	}
	t, err := strconv.ParseFloat(args, 64)
	if err != nil {
		return fmt.Errorf("invalid temperature %q", args)
	}
	return s.app.Store.SetTemperature(ctx, t)
}

func cmdStyle(ctx context.Context, s *session, args string) error {
	if args == "" {
		current := s.app.Store.Snapshot().Settings.DisplayStyle()
		for _, p := range model.Presets {
			marker := " "
			if p.Style == current {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %-11s %-8s %.1f  %s\n", marker, p.Style, p.Tier, p.Temperature, DimStyle.Render(p.Description))
		}
		if current == model.StyleCustom {
			fmt.Fprintln(s.out, DimStyle.Render("Current values match no style (custom)."))
		}
		return nil
	}
	return s.app.Store.SetResponseStyle(ctx, model.ResponseStyle(strings.ToLower(args)))
}

func cmdMode(ctx context.Context, s *session, args string) error {
	if args == "" {
		fmt.Fprintln(s.out, RenderLabel("Mode", string(s.app.Store.Snapshot().Settings.SettingsMode)))
		return nil
	}
	return s.app.Store.SetSettingsMode(ctx, model.SettingsMode(strings.ToLower(args)))
}

func cmdAttach(ctx context.Context, s *session, args string) error {
	if args == "" {
		if len(s.staged) == 0 {
			fmt.Fprintln(s.out, DimStyle.Render("No files staged."))
		}
		for _, a := range s.staged {
			fmt.Fprintf(s.out, "📎 %s (%s, %s)\n", a.Name, a.Type, util.FormatBytes(a.Size))
		}
		return nil
	}
	ref, err := stageFile(ctx, s.app.Blobs, expandHome(args))
	if err != nil {
		return err
	}
	s.staged = append(s.staged, ref)
	fmt.Fprintln(s.out, SuccessStyle.Render("Attached "+ref.Name))
	return nil
}

func cmdClear(ctx context.Context, s *session, _ string) error {
	if !s.confirm("Delete ALL chats, settings and attachments?") {
		return nil
	}
	if err := s.app.Store.ClearAllData(ctx); err != nil {
		return err
	}
	s.staged = nil
	fmt.Fprintln(s.out, SuccessStyle.Render("All data cleared."))
	return nil
}

func cmdHelp(_ context.Context, s *session, _ string) error {
	names := make([]string, 0, len(slashCommands))
	for name := range slashCommands {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Fprintln(s.out, TitleStyle.Render("Commands"))
	for _, name := range names {
		c := slashCommands[name]
		fmt.Fprintf(s.out, "  %-26s %s\n", c.usage, DimStyle.Render(c.desc))
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, DimStyle.Render("Tip: Ctrl+C cancels the current reply, Ctrl+D exits"))
	return nil
}

func cmdQuit(context.Context, *session, string) error {
	return errQuit
}

// expandHome replaces a leading "~/" with the home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
