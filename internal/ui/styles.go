// Package ui provides terminal styling for crmctl output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/crmops/crmctl/internal/types"
)

// Ayu theme color palette
var (
	ColorPass   = lipgloss.AdaptiveColor{Light: "#86b300", Dark: "#c2d94c"}
	ColorWarn   = lipgloss.AdaptiveColor{Light: "#f2ae49", Dark: "#ffb454"}
	ColorFail   = lipgloss.AdaptiveColor{Light: "#f07171", Dark: "#f07178"}
	ColorMuted  = lipgloss.AdaptiveColor{Light: "#828c99", Dark: "#6c7680"}
	ColorAccent = lipgloss.AdaptiveColor{Light: "#399ee6", Dark: "#59c2ff"}
	ColorAI     = lipgloss.AdaptiveColor{Light: "#a37acc", Dark: "#d2a6ff"}
)

var (
	PassStyle     = lipgloss.NewStyle().Foreground(ColorPass)
	WarnStyle     = lipgloss.NewStyle().Foreground(ColorWarn)
	FailStyle     = lipgloss.NewStyle().Foreground(ColorFail)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorMuted)
	AccentStyle   = lipgloss.NewStyle().Foreground(ColorAccent)
	AIStyle       = lipgloss.NewStyle().Foreground(ColorAI)
	BoldStyle     = lipgloss.NewStyle().Bold(true)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// Status icons
const (
	IconPass = "✓"
	IconWarn = "⚠"
	IconFail = "✗"
	IconSkip = "-"
	IconInfo = "ℹ"
)

const (
	TreeLast       = "└─ "
	TreeIndent     = "  "
	SeparatorLight = "──────────────────────────────────────────"
)

func RenderPass(s string) string   { return PassStyle.Render(s) }
func RenderWarn(s string) string   { return WarnStyle.Render(s) }
func RenderFail(s string) string   { return FailStyle.Render(s) }
func RenderMuted(s string) string  { return MutedStyle.Render(s) }
func RenderAccent(s string) string { return AccentStyle.Render(s) }
func RenderBold(s string) string   { return BoldStyle.Render(s) }

// RenderCategory renders a category header in uppercase with accent color
func RenderCategory(s string) string {
	return CategoryStyle.Render(strings.ToUpper(s))
}

// RenderSeparator renders the light separator line in muted color
func RenderSeparator() string {
	return MutedStyle.Render(SeparatorLight)
}

// RenderStatusIcon maps a doctor status (ok, warning, error, skipped) to
// its styled icon.
func RenderStatusIcon(status string) string {
	switch status {
	case "ok":
		return PassStyle.Render(IconPass)
	case "warning":
		return WarnStyle.Render(IconWarn)
	case "error":
		return FailStyle.Render(IconFail)
	case "skipped":
		return MutedStyle.Render(IconSkip)
	default:
		return AccentStyle.Render(IconInfo)
	}
}

// RenderTicketStatus colors a ticket status by how much attention it needs.
func RenderTicketStatus(s types.TicketStatus) string {
	switch s {
	case types.TicketOpen:
		return WarnStyle.Render(string(s))
	case types.TicketPending, types.TicketInProgress:
		return AccentStyle.Render(string(s))
	case types.TicketResolved, types.TicketClosed:
		return MutedStyle.Render(string(s))
	default:
		return string(s)
	}
}

func RenderAgentType(t types.AgentType) string {
	if t == types.AgentAI {
		return AIStyle.Render(string(t))
	}
	return string(t)
}

// RenderAgentStatus colors a human agent's presence.
func RenderAgentStatus(s types.AgentStatus) string {
	switch s {
	case types.AgentOnline:
		return PassStyle.Render(string(s))
	case types.AgentAway:
		return WarnStyle.Render(string(s))
	case "":
		return MutedStyle.Render("-")
	default:
		return MutedStyle.Render(string(s))
	}
}

// RenderDryRun is the banner printed before previews of write operations.
func RenderDryRun() string {
	return WarnStyle.Bold(true).Render("DRY RUN") + MutedStyle.Render(" (pass --apply to write changes)")
}
