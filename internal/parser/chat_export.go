package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// chatMessage is the common shape this parser extracts from both Slack
// and Discord export JSON, after filtering out join/leave/pin/bot-only
// noise subtypes.
type chatMessage struct {
	Thread    string
	Speaker   string
	Text      string
	Timestamp time.Time
}

// ChatExportParser turns a Slack or Discord channel export into
// thread-grouped sections. Threads are grouped by an explicit thread
// pointer when the export provides one; otherwise a 30-minute gap
// between consecutive messages starts a new thread.
type ChatExportParser struct{}

func (p *ChatExportParser) SupportedFormats() []string { return []string{".slack.json", ".discord.json", "chat_export"} }

func (p *ChatExportParser) Parse(path string) (*ParsedDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading chat export: %w", err)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing chat export JSON: %w", err)
	}

	var messages []chatMessage
	for _, m := range raw {
		if isNoiseSubtype(m) {
			continue
		}
		msg := chatMessage{
			Thread:  stringField(m, "thread_ts", "thread_id"),
			Speaker: stringField(m, "user", "username", "author"),
			Text:    stringField(m, "text", "content"),
		}
		if ts := stringField(m, "ts", "timestamp"); ts != "" {
			msg.Timestamp = parseTimestamp(ts)
		}
		if msg.Text == "" {
			continue
		}
		messages = append(messages, msg)
	}

	groups := groupThreads(messages)
	doc := &ParsedDocument{Format: "chat_export", Title: filepath.Base(path)}
	for i, g := range groups {
		var b strings.Builder
		for _, m := range g {
			if !m.Timestamp.IsZero() {
				b.WriteString(fmt.Sprintf("[%s] %s: %s\n", m.Timestamp.Format("15:04"), m.Speaker, m.Text))
			} else {
				b.WriteString(fmt.Sprintf("%s: %s\n", m.Speaker, m.Text))
			}
		}
		content := strings.TrimSpace(b.String())
		doc.TotalChars += len(content)
		doc.Sections = append(doc.Sections, Section{
			Heading:     fmt.Sprintf("thread %d", i+1),
			Depth:       1,
			Content:     content,
			Type:        "paragraph",
			ContentType: "conversation",
		})
	}
	return doc, nil
}

func isNoiseSubtype(m map[string]interface{}) bool {
	subtype, _ := m["subtype"].(string)
	switch subtype {
	case "channel_join", "channel_leave", "pinned_item", "bot_message":
		return true
	}
	if b, ok := m["bot_id"]; ok && b != nil {
		return true
	}
	return false
}

func stringField(m map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func parseTimestamp(ts string) time.Time {
	if f, err := strconv.ParseFloat(ts, 64); err == nil {
		return time.Unix(int64(f), 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		return t
	}
	return time.Time{}
}

// groupThreads groups messages by explicit thread pointer first; any
// message without one is grouped into runs separated by a 30-minute gap.
func groupThreads(messages []chatMessage) [][]chatMessage {
	var explicit [][]chatMessage
	threadIdx := make(map[string]int)
	var loose []chatMessage

	for _, m := range messages {
		if m.Thread != "" {
			idx, ok := threadIdx[m.Thread]
			if !ok {
				idx = len(explicit)
				threadIdx[m.Thread] = idx
				explicit = append(explicit, nil)
			}
			explicit[idx] = append(explicit[idx], m)
			continue
		}
		loose = append(loose, m)
	}

	const gap = 30 * time.Minute
	var current []chatMessage
	for i, m := range loose {
		if i > 0 && !m.Timestamp.IsZero() && !loose[i-1].Timestamp.IsZero() &&
			m.Timestamp.Sub(loose[i-1].Timestamp) > gap {
			explicit = append(explicit, current)
			current = nil
		}
		current = append(current, m)
	}
	if len(current) > 0 {
		explicit = append(explicit, current)
	}
	return explicit
}
