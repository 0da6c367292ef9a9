package avatar

import (
	"strconv"
	"testing"
)

// parseChannels decodes a 6-digit hex background into its RGB channels.
func parseChannels(t *testing.T, bg string) (r, g, b int) {
	t.Helper()
	if len(bg) != 6 {
		t.Fatalf("expected 6-digit hex background, got %q", bg)
	}
	parse := func(s string) int {
		v, err := strconv.ParseInt(s, 16, 32)
		if err != nil {
			t.Fatalf("invalid hex %q: %v", s, err)
		}
		return int(v)
	}
	return parse(bg[0:2]), parse(bg[2:4]), parse(bg[4:6])
}

func TestGenerateColors(t *testing.T) {
	t.Run("known values", func(t *testing.T) {
		tests := []struct {
			text string
			bg   string
			fg   string
		}{
			{"John Doe", "373d3c", "fff"},
			{"alice", "373792", "fff"},
			{"a k", "aabfa0", "fff"},
			{"Jane Roe", "a865ad", "fff"},
		}
		for _, tc := range tests {
			bg, fg := GenerateColors(tc.text)
			if bg != tc.bg || fg != tc.fg {
				t.Errorf("GenerateColors(%q) = (%q, %q), want (%q, %q)",
					tc.text, bg, fg, tc.bg, tc.fg)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		for range 10 {
			bg1, fg1 := GenerateColors("Some User")
			bg2, fg2 := GenerateColors("Some User")
			if bg1 != bg2 || fg1 != fg2 {
				t.Fatalf("colors not deterministic: (%q,%q) vs (%q,%q)", bg1, fg1, bg2, fg2)
			}
		}
	})

	t.Run("case insensitive", func(t *testing.T) {
		bg1, fg1 := GenerateColors("John Doe")
		bg2, fg2 := GenerateColors("JOHN DOE")
		if bg1 != bg2 || fg1 != fg2 {
			t.Errorf("expected identical colors for case variants, got (%q,%q) vs (%q,%q)",
				bg1, fg1, bg2, fg2)
		}
	})

	t.Run("channels stay in range", func(t *testing.T) {
		inputs := []string{
			"", "a", "zz", "John Doe", "user@example.com",
			"Ángela Müller", "外山正一", "some very long display name indeed",
		}
		for _, text := range inputs {
			bg, _ := GenerateColors(text)
			r, g, b := parseChannels(t, bg)
			for _, c := range []int{r, g, b} {
				if c < 55 || c > 200 {
					t.Errorf("GenerateColors(%q): channel %d outside [55,200] in %q", text, c, bg)
				}
			}
		}
	})

	t.Run("foreground matches luminance rule", func(t *testing.T) {
		inputs := []string{
			"", "John Doe", "alice", "bob", "carol", "dave",
			"light light light", "dark dark dark", "x", "y", "z",
		}
		for _, text := range inputs {
			bg, fg := GenerateColors(text)
			r, g, b := parseChannels(t, bg)
			luminance := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			want := "fff"
			if luminance > 186 {
				want = "000"
			}
			if fg != want {
				t.Errorf("GenerateColors(%q) = fg %q, want %q (luminance %.2f)",
					text, fg, want, luminance)
			}
		}
	})
}
