package avatar

import (
	"strings"
	"testing"
)

func TestInitialsFromName(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		length int
		want   string
	}{
		{"two parts", "John Doe", 2, "JD"},
		{"single part uses leading characters", "Alice", 2, "Al"},
		{"middle names dropped", "A B C D", 2, "AD"},
		{"two parts truncated to length", "J Doe", 3, "JDo"},
		{"longer single part", "Alice", 3, "Ali"},
		{"empty", "", 2, ""},
		{"whitespace only", "   ", 2, ""},
		{"multibyte runes", "Ångela Øster", 2, "ÅØ"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := initialsFromName(tc.input, tc.length)
			if got != tc.want {
				t.Errorf("initialsFromName(%q, %d) = %q, want %q",
					tc.input, tc.length, got, tc.want)
			}
		})
	}
}

func TestRenderInitials(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		svg := RenderInitials("John Doe", DefaultInitialsConfig())

		for _, want := range []string{
			`width="64px"`,
			`height="64px"`,
			`viewBox="0 0 64 64"`,
			`<rect fill="#373d3c"`,
			`font-size="28"`, // round(64 * 0.4375)
			`font-weight="400"`,
			`>JD</text>`,
			`fill="#fff"`,
		} {
			if !strings.Contains(svg, want) {
				t.Errorf("rendered SVG missing %q:\n%s", want, svg)
			}
		}
	})

	t.Run("single part upper-cased", func(t *testing.T) {
		svg := RenderInitials("Alice", DefaultInitialsConfig())
		if !strings.Contains(svg, ">AL</text>") {
			t.Errorf("expected initials AL, got:\n%s", svg)
		}
	})

	t.Run("uppercase disabled", func(t *testing.T) {
		cfg := DefaultInitialsConfig()
		cfg.Uppercase = false
		svg := RenderInitials("Alice", cfg)
		if !strings.Contains(svg, ">Al</text>") {
			t.Errorf("expected initials Al, got:\n%s", svg)
		}
	})

	t.Run("rounded and bold", func(t *testing.T) {
		cfg := DefaultInitialsConfig()
		cfg.Rounded = true
		cfg.Bold = true
		svg := RenderInitials("John Doe", cfg)
		if !strings.Contains(svg, "<circle ") {
			t.Errorf("expected circle shape, got:\n%s", svg)
		}
		if !strings.Contains(svg, `font-weight="600"`) {
			t.Errorf("expected bold font weight, got:\n%s", svg)
		}
	})

	t.Run("custom size", func(t *testing.T) {
		cfg := DefaultInitialsConfig()
		cfg.Size = 128
		svg := RenderInitials("John Doe", cfg)
		for _, want := range []string{
			`width="128px"`,
			`cx="64"`,
			`r="64"`,
			`font-size="56"`, // round(128 * 0.4375)
		} {
			if !strings.Contains(svg, want) {
				t.Errorf("rendered SVG missing %q:\n%s", want, svg)
			}
		}
	})

	t.Run("zero config normalized to defaults", func(t *testing.T) {
		svg := RenderInitials("John Doe", InitialsConfig{Uppercase: true})
		want := RenderInitials("John Doe", DefaultInitialsConfig())
		if svg != want {
			t.Error("zero-value numeric fields should normalize to defaults")
		}
	})

	t.Run("pure", func(t *testing.T) {
		a := RenderInitials("Jane Roe", DefaultInitialsConfig())
		b := RenderInitials("Jane Roe", DefaultInitialsConfig())
		if a != b {
			t.Error("identical inputs must yield identical markup")
		}
	})

	t.Run("text content escaped", func(t *testing.T) {
		svg := RenderInitials("<b>", DefaultInitialsConfig())
		if strings.Contains(svg, "><B</text>") || strings.Contains(svg, "><b") {
			t.Errorf("initials not escaped:\n%s", svg)
		}
		if !strings.Contains(svg, "&lt;") {
			t.Errorf("expected escaped angle bracket:\n%s", svg)
		}
	})
}
