package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// escapeText neutralizes angle brackets so user content cannot break the
// markup structure. JSON serialization needs no escaping; encoding/json
// round-trips arbitrary content as-is.
func escapeText(s string) string {
	s = strings.ReplaceAll(s, "<", "&lt;")
	return strings.ReplaceAll(s, ">", "&gt;")
}

// JSON returns the plain structured encoding of the snapshot.
func (s *Snapshot) JSON() (string, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(data), nil
}

// Markup renders the snapshot as the tagged text block fed to the model.
func (s *Snapshot) Markup() string {
	var b strings.Builder

	if s.Guild != nil {
		fmt.Fprintf(&b, "<server name=%q", s.Guild.Name)
		if s.Guild.Description != "" {
			fmt.Fprintf(&b, " description=%q", s.Guild.Description)
		}
		b.WriteString(" />\n")
	}
	fmt.Fprintf(&b, "<channel name=%q", s.Channel.Name)
	if s.Channel.Topic != "" {
		fmt.Fprintf(&b, " topic=%q", s.Channel.Topic)
	}
	b.WriteString(" />\n")

	if len(s.Entities) > 0 {
		b.WriteString("<entities>\n")
		for _, e := range s.Entities {
			fmt.Fprintf(&b, "  <%s id=%q name=%q", e.Kind, e.ID, escapeText(e.DisplayName))
			if e.IsSelf {
				b.WriteString(" self=\"true\"")
			} else if e.IsBot {
				b.WriteString(" bot=\"true\"")
			}
			b.WriteString(" />\n")
		}
		b.WriteString("</entities>\n")
	}

	if len(s.History) > 0 {
		b.WriteString("<history>\n")
		for _, m := range s.History {
			writeMessage(&b, "message", m)
		}
		b.WriteString("</history>\n")
	}

	if len(s.Referenced) > 0 {
		b.WriteString("<referenced>\n")
		for _, m := range s.Referenced {
			writeMessage(&b, "message", m)
		}
		b.WriteString("</referenced>\n")
	}

	writeMessage(&b, "current", s.Current)
	return b.String()
}

func writeMessage(b *strings.Builder, tag string, m MessageView) {
	fmt.Fprintf(b, "  <%s id=%q author=%q at=%q", tag, m.ID, escapeText(m.AuthorName), m.Timestamp.Format("2006-01-02T15:04:05Z07:00"))
	if m.ReferencedID != "" {
		fmt.Fprintf(b, " replyTo=%q", m.ReferencedID)
	}
	b.WriteString(">")
	b.WriteString(escapeText(m.Content))
	for _, a := range m.Attachments {
		fmt.Fprintf(b, "\n    <attachment name=%q url=%q size=\"%d\"", escapeText(a.Name), a.URL, a.SizeBytes)
		if a.ContentType != "" {
			fmt.Fprintf(b, " type=%q", a.ContentType)
		}
		b.WriteString(" />")
	}
	for _, c := range m.ToolCalls {
		fmt.Fprintf(b, "\n    <tool_call name=%q", c.ToolName)
		if c.IsError {
			fmt.Fprintf(b, " error=%q", escapeText(c.Error))
		}
		b.WriteString(" />")
	}
	fmt.Fprintf(b, "</%s>\n", tag)
}
