// Package ui holds terminal helpers for the CLI renderer.
package ui

import (
	"os"
	"strings"

	"golang.org/x/term"

	"eventscope/internal/model"
)

// ShouldUseColor returns true when ANSI colors should be used on stdout.
// It respects NO_COLOR, CLICOLOR_FORCE, CLICOLOR, and TTY detection.
func ShouldUseColor() bool {
	// https://no-color.org
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR_FORCE")) == "1" {
		return true
	}
	if strings.TrimSpace(os.Getenv("CLICOLOR")) == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Width returns the terminal width of stdout, or fallback when stdout is
// not a terminal.
func Width(fallback int) int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return fallback
	}
	return w
}

const reset = "\x1b[0m"

var categoryColors = map[model.Category]string{
	model.CategoryBusiness:    "\x1b[34m", // blue
	model.CategoryCommunity:   "\x1b[32m", // green
	model.CategoryEvents:      "\x1b[35m", // purple
	model.CategoryExhibit:     "\x1b[33m", // amber
	model.CategoryFestivals:   "\x1b[95m", // pink
	model.CategoryFood:        "\x1b[38;5;208m",
	model.CategoryPerformance: "\x1b[31m",
	model.CategorySport:       "\x1b[92m",
}

// Styler applies ANSI styling when enabled and is a no-op otherwise.
type Styler struct {
	Enabled bool
}

// Category colors a category label; unknown categories stay gray.
func (s Styler) Category(c model.Category) string {
	if !s.Enabled {
		return string(c)
	}
	color, ok := categoryColors[c]
	if !ok {
		color = "\x1b[90m"
	}
	return color + string(c) + reset
}

func (s Styler) Bold(text string) string {
	if !s.Enabled {
		return text
	}
	return "\x1b[1m" + text + reset
}

func (s Styler) Dim(text string) string {
	if !s.Enabled {
		return text
	}
	return "\x1b[2m" + text + reset
}

func (s Styler) Warn(text string) string {
	if !s.Enabled {
		return text
	}
	return "\x1b[33m" + text + reset
}
