// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeranaias/minigem/internal/model"
	"github.com/jeranaias/minigem/internal/util"
)

// =============================================================================
// CHAT EXPORT
// =============================================================================

// Export formats.
const (
	FormatMarkdown = "md"
	FormatJSON     = "json"
	FormatYAML     = "yaml"
)

// Export writes c to w in the given format ("md", "markdown", "json", "yaml").
func Export(w io.Writer, c model.Chat, format string) error {
	switch strings.ToLower(format) {
	case FormatMarkdown, "markdown":
		_, err := io.WriteString(w, ExportMarkdown(c))
		return err
	case FormatJSON:
		data, err := ExportJSON(c)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	case FormatYAML, "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(encodeChat(c)); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported format: %s (supported: md, json, yaml)", format)
	}
}

// ExportMarkdown renders the chat as Markdown with role labels and timestamps.
func ExportMarkdown(c model.Chat) string {
	var sb strings.Builder
	sb.WriteString("# " + c.Title + "\n\n")
	sb.WriteString("Created: " + c.CreatedAt.Format(time.RFC3339) + "\n\n")
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		fmt.Fprintf(&sb, "**%s** (%s)", msg.Role.DisplayName(), msg.Timestamp.Format("2006-01-02 15:04"))
		if msg.Role == model.RoleAssistant && msg.Params != nil {
			fmt.Fprintf(&sb, " · %s, thinking %s, temperature %.1f", msg.Params.Model, msg.Params.Tier, msg.Params.Temperature)
		}
		if msg.LatencyMs != nil {
			fmt.Fprintf(&sb, " · %.1fs", msg.Latency().Seconds())
		}
		sb.WriteString(":\n\n")
		for _, a := range msg.Attachments {
			fmt.Fprintf(&sb, "> 📎 %s (%s, %s)\n", a.Name, a.Type, util.FormatBytes(a.Size))
		}
		if len(msg.Attachments) > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n---\n\n")
	}

	return sb.String()
}

// ExportJSON renders the chat in its stored form, pretty-printed.
func ExportJSON(c model.Chat) ([]byte, error) {
	return json.MarshalIndent(encodeChat(c), "", "  ")
}
