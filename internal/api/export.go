package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/skald-ai/skald/internal/memory"
)

// handleConversationExport renders a transcript as markdown or HTML.
// GET /v1/conversations/{id}/export?format=markdown|html
func (s *Server) handleConversationExport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	conv, err := s.store.Get(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, "storage error")
		return
	}
	if conv == nil {
		s.errorResponse(w, http.StatusNotFound, "conversation not found")
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}

	md := transcriptMarkdown(conv)
	short := id
	if len(short) > 8 {
		short = short[:8]
	}

	switch format {
	case "markdown", "md":
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"conversation-%s.md\"", short))
		fmt.Fprint(w, md)

	case "html":
		html, err := transcriptHTML(md)
		if err != nil {
			s.errorResponse(w, http.StatusInternalServerError, "render: "+err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, html)

	default:
		s.errorResponse(w, http.StatusBadRequest, "unsupported format: "+format+" (use markdown or html)")
	}
}

// transcriptMarkdown renders the conversation as a readable markdown
// document. Tool traffic is kept, folded into fenced blocks, so exports
// show what the agent actually did.
func transcriptMarkdown(conv *memory.Conversation) string {
	var b strings.Builder

	title := conv.Title
	if title == "" {
		title = "Conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "_%s_\n\n", conv.CreatedAt.Format("2006-01-02 15:04 MST"))

	for _, msg := range conv.Messages {
		switch msg.Role {
		case memory.RoleUser:
			fmt.Fprintf(&b, "## User\n\n%s\n\n", msg.Content)
		case memory.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				b.WriteString("## Assistant\n\n")
				for _, call := range msg.ToolCalls {
					fmt.Fprintf(&b, "Called `%s`:\n\n```json\n%s\n```\n\n", call.Name, call.Arguments)
				}
				continue
			}
			fmt.Fprintf(&b, "## Assistant\n\n%s\n\n", msg.Content)
		case memory.RoleTool:
			fmt.Fprintf(&b, "Result from `%s`:\n\n```json\n%s\n```\n\n", msg.ToolName, msg.Content)
		case memory.RoleSystem:
			fmt.Fprintf(&b, "> %s\n\n", msg.Content)
		}
	}

	return b.String()
}

// transcriptHTML renders the markdown transcript into a standalone HTML
// document with no external resources.
func transcriptHTML(md string) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(md), &buf); err != nil {
		return "", err
	}

	html := fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, buf.String())

	return html, nil
}
