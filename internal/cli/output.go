// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// output.go - Streaming output, listings and attachment staging.

package cli

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jeranaias/minigem/internal/blob"
	"github.com/jeranaias/minigem/internal/chat"
	"github.com/jeranaias/minigem/internal/gemini"
	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/util"
)

// =============================================================================
// STREAM PRINTER
// =============================================================================

// streamPrinter subscribes to the store and writes reply text as it streams.
type streamPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	msgID   string
	printed int
}

func newStreamPrinter(w io.Writer) *streamPrinter {
	return &streamPrinter{w: w}
}

// Observe is registered with chat.Store.Subscribe.
func (p *streamPrinter) Observe(st chat.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if st.StreamingID != "" && st.StreamingID != p.msgID {
		p.msgID = st.StreamingID
		p.printed = 0
	}
	if p.msgID == "" {
		return
	}

	if m, ok := findMessage(st, p.msgID); ok && len(m.Content) > p.printed {
		io.WriteString(p.w, m.Content[p.printed:])
		p.printed = len(m.Content)
	}
	if st.StreamingID == "" {
		io.WriteString(p.w, "\n")
		p.msgID = ""
		p.printed = 0
	}
}

func findMessage(st chat.State, id string) (model.Message, bool) {
	for _, c := range st.Chats {
		if m, ok := c.Message(id); ok {
			return m, true
		}
	}
	return model.Message{}, false
}

// =============================================================================
// LISTINGS
// =============================================================================

const titleWidth = 40

// writeChatList prints a numbered table of chats. The active chat is starred.
func writeChatList(w io.Writer, st chat.State) {
	if len(st.Chats) == 0 {
		fmt.Fprintln(w, DimStyle.Render("No chats yet."))
		return
	}
	for i, c := range st.Chats {
		marker := " "
		if c.ID == st.ActiveID {
			marker = "*"
		}
		title := util.PadRight(util.TruncateWidth(c.Title, titleWidth), titleWidth)
		fmt.Fprintf(w, "%s %3d  %s  %4d msgs  %s  %s\n",
			marker, i+1, title, len(c.Messages),
			c.UpdatedAt.Local().Format("2006-01-02 15:04"),
			DimStyle.Render(c.ID))
	}
}

// writeHistory prints the active chat numbered by user message.
func writeHistory(w io.Writer, c model.Chat) {
	if c.IsEmpty() {
		fmt.Fprintln(w, DimStyle.Render("This chat is empty."))
		return
	}
	n := 0
	for _, m := range c.Messages {
		label := AssistantRoleStyle.Render(m.Role.DisplayName())
		prefix := "    "
		if m.Role == model.RoleUser {
			n++
			prefix = fmt.Sprintf("%3d ", n)
			label = UserRoleStyle.Render(m.Role.DisplayName())
		}
		line := fmt.Sprintf("%s%s: %s", prefix, label, m.Preview(70))
		if m.LatencyMs != nil {
			line += " " + DimStyle.Render(m.Latency().Round(100*time.Millisecond).String())
		}
		fmt.Fprintln(w, line)
		if !m.HasAttachments() {
			continue
		}
		for _, a := range m.Attachments {
			fmt.Fprintf(w, "      %s\n", DimStyle.Render("📎 "+a.Name+" ("+util.FormatBytes(a.Size)+")"))
		}
	}
}

// userMessageAt returns the n-th (1-based) user message of c.
func userMessageAt(c model.Chat, n int) (model.Message, int, error) {
	seen := 0
	for i, m := range c.Messages {
		if m.Role != model.RoleUser {
			continue
		}
		seen++
		if seen == n {
			return m, i, nil
		}
	}
	return model.Message{}, -1, fmt.Errorf("no message #%d in this chat", n)
}

// lastUserMessage returns the final user message of c.
func lastUserMessage(c model.Chat) (model.Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == model.RoleUser {
			return c.Messages[i], true
		}
	}
	return model.Message{}, false
}

// resolveChat finds a chat by 1-based list position or by ID.
func resolveChat(st chat.State, ref string) (model.Chat, error) {
	if n, err := strconv.Atoi(ref); err == nil && n >= 1 && n <= len(st.Chats) {
		return st.Chats[n-1], nil
	}
	if c, _, ok := st.Chat(ref); ok {
		return c, nil
	}
	return model.Chat{}, fmt.Errorf("%w: %s", chat.ErrChatNotFound, ref)
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// MaxAttachmentSize bounds files accepted by /attach and --attach.
const MaxAttachmentSize = 100 * 1024 * 1024

// detectMIME guesses a file's type from its extension, then its content.
func detectMIME(path string, data []byte) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		if i := strings.IndexByte(t, ';'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return http.DetectContentType(data)
}

// stageFile stores a file in the blob store and returns its reference.
func stageFile(ctx context.Context, blobs chat.BlobStore, path string) (model.AttachmentRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.AttachmentRef{}, err
	}
	if info.IsDir() {
		return model.AttachmentRef{}, fmt.Errorf("%s is a directory", path)
	}
	if info.Size() > MaxAttachmentSize {
		return model.AttachmentRef{}, fmt.Errorf("%s is %s; the limit is %s",
			path, util.FormatBytes(info.Size()), util.FormatBytes(MaxAttachmentSize))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.AttachmentRef{}, err
	}
	typ := detectMIME(path, data)
	if !gemini.IsSupported(typ) {
		return model.AttachmentRef{}, fmt.Errorf("%s: unsupported file type %s (images and PDFs only)", path, typ)
	}
	return blobs.Put(ctx, blob.Blob{Name: filepath.Base(path), Type: typ, Data: data})
}
