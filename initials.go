package avatar

import (
	"fmt"
	"math"
	"strings"
)

// Default initials rendering configuration.
const (
	DefaultInitialsLength    = 2
	DefaultInitialsSize      = 64
	DefaultInitialsFontRatio = 0.4375
)

const svgNamespace = "http://www.w3.org/2000/svg"

// svgFontStack matches the fonts used by the web UI so generated avatars
// blend in with rendered pages.
var svgFontStack = strings.Join([]string{
	"'RedHatText'",
	"'Overpass'",
	"overpass",
	"helvetica",
	"arial",
	"sans-serif",
}, ",")

// InitialsConfig configures RenderInitials.
type InitialsConfig struct {
	// Length is the maximum number of initials characters (default 2).
	Length int
	// Size is the image width and height in pixels (default 64).
	Size int
	// Rounded renders a circle instead of a square background.
	Rounded bool
	// FontRatio is the font size as a fraction of Size (default 0.4375).
	FontRatio float64
	// Bold renders the initials with font-weight 600 instead of 400.
	Bold bool
	// Uppercase upper-cases the initials.
	Uppercase bool
}

// DefaultInitialsConfig returns the default rendering configuration:
// two upper-cased initials in a 64px square.
func DefaultInitialsConfig() InitialsConfig {
	return InitialsConfig{
		Length:    DefaultInitialsLength,
		Size:      DefaultInitialsSize,
		FontRatio: DefaultInitialsFontRatio,
		Uppercase: true,
	}
}

// normalize fills in zero numeric fields with defaults so a partially
// populated config still renders something sensible.
func (c InitialsConfig) normalize() InitialsConfig {
	if c.Length <= 0 {
		c.Length = DefaultInitialsLength
	}
	if c.Size <= 0 {
		c.Size = DefaultInitialsSize
	}
	if c.FontRatio <= 0 {
		c.FontRatio = DefaultInitialsFontRatio
	}
	return c
}

// initialsFromName extracts up to length initials characters from a
// display name. With more than two name parts only the first and last are
// considered; a single part contributes its leading characters; two parts
// contribute the first character of the first plus the whole second,
// truncated to length.
func initialsFromName(name string, length int) string {
	parts := strings.Fields(name)
	if len(parts) > 2 {
		parts = []string{parts[0], parts[len(parts)-1]}
	}

	var initials string
	switch len(parts) {
	case 0:
		return ""
	case 1:
		initials = parts[0]
	default:
		first := []rune(parts[0])
		initials = string(first[0]) + parts[1]
	}

	runes := []rune(initials)
	if len(runes) > length {
		runes = runes[:length]
	}
	return string(runes)
}

// xmlTextEscaper escapes text content for embedding in the SVG document.
var xmlTextEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// RenderInitials builds an SVG avatar with the initials of name.
//
// Pure and deterministic: identical (name, cfg) inputs yield an identical
// markup string, so callers may cache results keyed by value equality.
// The Service memoizes renders internally; direct callers do not need to.
func RenderInitials(name string, cfg InitialsConfig) string {
	cfg = cfg.normalize()

	initials := initialsFromName(name, cfg.Length)
	if cfg.Uppercase {
		initials = strings.ToUpper(initials)
	}

	bg, fg := GenerateColors(name)

	shape := "rect"
	if cfg.Rounded {
		shape = "circle"
	}
	fontWeight := "400"
	if cfg.Bold {
		fontWeight = "600"
	}
	half := cfg.Size / 2
	fontSize := int(math.Round(float64(cfg.Size) * cfg.FontRatio))

	var b strings.Builder
	fmt.Fprintf(&b,
		`<svg xmlns=%q width="%dpx" height="%dpx" viewBox="0 0 %d %d" version="1.1">`,
		svgNamespace, cfg.Size, cfg.Size, cfg.Size, cfg.Size)
	fmt.Fprintf(&b,
		`<%s fill="#%s" cx="%d" cy="%d" width="%d" height="%d" r="%d"/>`,
		shape, bg, half, half, cfg.Size, cfg.Size, half)
	fmt.Fprintf(&b,
		`<text x="50%%" y="50%%" style="color: #%s; line-height: 1; font-family: %s; "`+
			` fill="#%s" alignment-baseline="middle" dominant-baseline="middle"`+
			` text-anchor="middle" font-size="%d" font-weight="%s" dy=".1em">%s</text>`,
		fg, svgFontStack, fg, fontSize, fontWeight, xmlTextEscaper.Replace(initials))
	b.WriteString(`</svg>`)
	return b.String()
}
