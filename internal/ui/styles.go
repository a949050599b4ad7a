// Package ui provides terminal styling for strata CLI output.
// Uses the Ayu color theme with adaptive light/dark mode support.
package ui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/strataos/strata/internal/eventbus"
)

// Ayu theme color palette
var (
	ColorLow = lipgloss.AdaptiveColor{
		Light: "#828c99", // ayu light muted
		Dark:  "#6c7680", // ayu dark muted
	}
	ColorNormal = lipgloss.AdaptiveColor{
		Light: "#399ee6", // ayu light bright blue
		Dark:  "#59c2ff", // ayu dark bright blue
	}
	ColorHigh = lipgloss.AdaptiveColor{
		Light: "#f2ae49", // ayu light bright yellow
		Dark:  "#ffb454", // ayu dark bright yellow
	}
	ColorCritical = lipgloss.AdaptiveColor{
		Light: "#f07171", // ayu light bright red
		Dark:  "#f07178", // ayu dark bright red
	}
	ColorAccent = lipgloss.AdaptiveColor{
		Light: "#86b300", // ayu light bright green
		Dark:  "#c2d94c", // ayu dark bright green
	}
)

var (
	LowStyle      = lipgloss.NewStyle().Foreground(ColorLow)
	NormalStyle   = lipgloss.NewStyle().Foreground(ColorNormal)
	HighStyle     = lipgloss.NewStyle().Foreground(ColorHigh)
	CriticalStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorCritical)
	MutedStyle    = lipgloss.NewStyle().Foreground(ColorLow)
	CategoryStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
)

// ColorEnabled reports whether the terminal supports color output.
func ColorEnabled() bool {
	return termenv.EnvColorProfile() != termenv.Ascii
}

// RenderPriority returns the priority name styled by severity.
func RenderPriority(p eventbus.Priority) string {
	switch p {
	case eventbus.PriorityCritical:
		return CriticalStyle.Render(p.String())
	case eventbus.PriorityHigh:
		return HighStyle.Render(p.String())
	case eventbus.PriorityLow:
		return LowStyle.Render(p.String())
	}
	return NormalStyle.Render(p.String())
}

// RenderEvent formats one event as a styled tail line:
//
//	15:04:05.000  critical  system_shutdown   system -> *        #42
func RenderEvent(e eventbus.Event) string {
	target := "*"
	if e.Metadata.Target != "" {
		target = string(e.Metadata.Target)
	}
	return fmt.Sprintf("%s  %-18s %s  %s -> %s  %s",
		MutedStyle.Render(e.Metadata.Timestamp.Format("15:04:05.000")),
		RenderPriority(e.Metadata.Priority),
		CategoryStyle.Render(string(e.Metadata.Category)),
		e.Metadata.Source,
		target,
		MutedStyle.Render(fmt.Sprintf("#%d", e.Metadata.ID)),
	)
}
