package output

import (
	"strings"

	"github.com/muesli/termenv"
)

// Colorizer handles terminal color output with RGB support.
type Colorizer struct {
	profile  termenv.Profile
	disabled bool
}

// NewColorizer creates a new colorizer instance.
func NewColorizer(enabled bool) *Colorizer {
	return &Colorizer{
		profile:  termenv.ColorProfile(),
		disabled: !enabled,
	}
}

// namedColors maps color names to RGB hex values.
var namedColors = map[string]string{
	"red":     "#FF5555",
	"green":   "#50FA7B",
	"yellow":  "#F1FA8C",
	"blue":    "#6272A4",
	"magenta": "#FF79C6",
	"cyan":    "#8BE9FD",
	"gray":    "#6272A4",
	"orange":  "#FFB86C",
	"purple":  "#BD93F9",
}

// Status and outcome values map to fixed colors.
var valueColors = map[string]string{
	"allow":     "green",
	"active":    "green",
	"synced":    "green",
	"low":       "cyan",
	"challenge": "yellow",
	"draft":     "yellow",
	"pending":   "yellow",
	"medium":    "yellow",
	"inactive":  "gray",
	"archived":  "gray",
	"deny":      "red",
	"error":     "red",
	"high":      "orange",
	"critical":  "red",
}

func (c *Colorizer) resolveColor(color string) termenv.Color {
	if color == "" {
		return nil
	}
	color = strings.ToLower(color)
	if hex, ok := namedColors[color]; ok {
		return c.profile.Color(hex)
	}
	return c.profile.Color(color)
}

// Color applies a foreground color to text.
func (c *Colorizer) Color(text, color string) string {
	if c.disabled || color == "" {
		return text
	}
	col := c.resolveColor(color)
	if col == nil {
		return text
	}
	return termenv.String(text).Foreground(col).String()
}

// Value colors a status, outcome or severity by its meaning.
// Unknown values are returned unchanged.
func (c *Colorizer) Value(v string) string {
	return c.Color(v, valueColors[v])
}

// Bold makes text bold.
func (c *Colorizer) Bold(text string) string {
	if c.disabled {
		return text
	}
	return termenv.String(text).Bold().String()
}

// Dim makes text dimmed.
func (c *Colorizer) Dim(text string) string {
	if c.disabled {
		return text
	}
	return termenv.String(text).Faint().String()
}

// IsDisabled returns whether colors are disabled.
func (c *Colorizer) IsDisabled() bool {
	return c.disabled
}
