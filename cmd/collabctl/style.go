package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/modelsync/collab/internal/representation"
)

var (
	colorDimmed  = lipgloss.Color("#6b7280")
	colorBright  = lipgloss.Color("#f9fafb")
	colorHealthy = lipgloss.Color("#22c55e")
	colorWarning = lipgloss.Color("#d97706")
	colorDanger  = lipgloss.Color("#dc2626")
	colorAccent  = lipgloss.Color("#3b82f6")

	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBright)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDimmed)
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(colorHealthy)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarning)
	errStyle     = lipgloss.NewStyle().Bold(true).Foreground(colorDanger)
	kindStyle    = lipgloss.NewStyle().Foreground(colorAccent)
	contentStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDimmed).
			Padding(0, 1)
)

// renderSnapshot formats one representation snapshot.
func renderSnapshot(rep *representation.Representation, verbose bool) string {
	header := fmt.Sprintf("%s %s %s %s",
		dimStyle.Render(fmt.Sprintf("v%d", rep.Version)),
		kindStyle.Render(rep.Kind),
		labelStyle.Render(rep.Label),
		dimStyle.Render(rep.ID),
	)
	if !verbose || len(rep.Content) == 0 {
		return header
	}
	return header + "\n" + contentStyle.Render(indent(rep.Content))
}

// renderPayload formats a mutation result, red when it carries an error.
func renderPayload(operationName string, raw json.RawMessage) string {
	var p struct {
		Typename string `json:"__typename"`
		ID       string `json:"id"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(raw, &p); err != nil || p.Typename == "" {
		return indent(raw)
	}
	if p.Typename == "ErrorPayload" {
		return fmt.Sprintf("%s %s %s", errStyle.Render("✗"), operationName, p.Message)
	}
	line := fmt.Sprintf("%s %s", okStyle.Render("✓"), operationName)
	if p.ID != "" {
		line += " " + dimStyle.Render(p.ID)
	}
	return line
}

func renderError(err error) string {
	return errStyle.Render("error: ") + err.Error()
}

func renderNotice(msg string) string {
	return warnStyle.Render(msg)
}

func indent(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return strings.TrimRight(string(out), "\n")
}
