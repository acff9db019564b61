// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"log/slog"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/rigrun-chat/internal/controller"
	"github.com/jeranaias/rigrun-chat/internal/transcript"
	"github.com/jeranaias/rigrun-chat/internal/ui/styles"
)

// =============================================================================
// TRANSCRIPT RENDERER
// =============================================================================

// Renderer turns transcript segments into styled terminal text. Completed
// assistant sections are rendered as markdown and cached; the section still
// streaming stays plain text so partial markdown does not jump around.
type Renderer struct {
	theme    *styles.Theme
	labels   controller.Labels
	markdown bool
	logger   *slog.Logger

	width int
	md    *glamour.TermRenderer
	cache map[string]string
}

// NewRenderer creates a renderer. markdown enables glamour for replies.
func NewRenderer(theme *styles.Theme, labels controller.Labels, markdown bool, logger *slog.Logger) *Renderer {
	return &Renderer{
		theme:    theme,
		labels:   labels,
		markdown: markdown,
		logger:   logger,
		cache:    make(map[string]string),
	}
}

// SetWidth sets the wrap width. Changing it drops the markdown cache.
func (r *Renderer) SetWidth(width int) {
	if width < 20 {
		width = 20
	}
	if width == r.width && (r.md != nil || !r.markdown) {
		return
	}
	r.width = width
	r.cache = make(map[string]string)
	r.md = nil

	if !r.markdown {
		return
	}
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle(r.theme.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		r.logger.Warn("markdown renderer unavailable", "error", err)
		return
	}
	r.md = md
}

// Render draws all segments. streaming marks the last assistant segment as
// still receiving chunks.
func (r *Renderer) Render(segs []transcript.Segment, streaming bool) string {
	var b strings.Builder
	last := len(segs) - 1
	for i, seg := range segs {
		live := streaming && i == last && seg.Kind == transcript.KindAssistant
		b.WriteString(r.renderSegment(seg, live))
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r *Renderer) renderSegment(seg transcript.Segment, live bool) string {
	label, labelStyle, bodyStyle := r.styleFor(seg.Kind)

	var b strings.Builder
	for _, sec := range splitSections(seg.Text, label) {
		if sec.labelled {
			b.WriteString(labelStyle.Render(label + ":"))
			b.WriteString("\n")
		}
		body := sec.body
		if !sec.closed && !live {
			// Interrupted before its delimiter; show what arrived.
			body = strings.TrimRight(body, "\n")
		}
		if body != "" {
			if seg.Kind == transcript.KindAssistant && !live && r.md != nil {
				b.WriteString(r.renderMarkdown(body))
			} else {
				b.WriteString(bodyStyle.Width(r.wrapWidth(seg.Kind)).Render(body))
			}
			b.WriteString("\n")
		}
		if sec.closed {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (r *Renderer) styleFor(kind transcript.Kind) (string, lipgloss.Style, lipgloss.Style) {
	switch kind {
	case transcript.KindUser:
		return r.labels.User, r.theme.UserLabel, r.theme.UserText
	case transcript.KindSystem:
		return r.labels.System, r.theme.SystemLabel, r.theme.SystemText
	default:
		return r.labels.Assistant, r.theme.AssistantLabel, r.theme.AssistantText
	}
}

func (r *Renderer) wrapWidth(kind transcript.Kind) int {
	if kind == transcript.KindSystem {
		// border and padding
		return r.width - 2
	}
	return r.width
}

func (r *Renderer) renderMarkdown(body string) string {
	if out, ok := r.cache[body]; ok {
		return out
	}
	out, err := r.md.Render(body)
	if err != nil {
		r.logger.Debug("markdown render failed", "error", err)
		out = body
	}
	out = strings.Trim(out, "\n")
	r.cache[body] = out
	return out
}

// =============================================================================
// SECTION SPLITTING
// =============================================================================

type section struct {
	labelled bool
	body     string
	closed   bool
}

// splitSections breaks a segment into "<label>:\n<body>\n\n" sections.
// Consecutive sections of one kind arrive merged in a single segment.
func splitSections(text, label string) []section {
	header := label + ":\n"
	var out []section
	for text != "" {
		sec := section{}
		if strings.HasPrefix(text, header) {
			sec.labelled = true
			text = text[len(header):]
		}

		next := strings.Index(text, "\n\n"+header)
		var chunk string
		if next >= 0 {
			chunk, text = text[:next+2], text[next+2:]
		} else {
			chunk, text = text, ""
		}

		if strings.HasSuffix(chunk, "\n\n") {
			sec.closed = true
			chunk = chunk[:len(chunk)-2]
		}
		sec.body = chunk
		out = append(out, sec)
	}
	return out
}
