package avatar

import (
	"crypto/md5"
	"fmt"
	"strings"
)

// Channel bounds keep generated backgrounds away from near-black and
// near-white so the foreground text stays legible.
const (
	minChannel = 55
	maxChannel = 200

	// luminanceThreshold decides between black and white foreground text,
	// using ITU-R BT.601 luma weights.
	luminanceThreshold = 186
)

// GenerateColors derives a deterministic background/foreground color pair
// from text. The same input always yields the same pair.
//
// The lower-cased text is hashed with MD5 (not used for security), the
// digest reduced modulo 0xFFFFFF, and the result split into blue (low
// byte), green and red channels, each clamped to [55, 200]. The background
// is the hex-encoded red,green,blue triple; the foreground is "000" when
// the background luminance exceeds the contrast threshold, else "fff".
func GenerateColors(text string) (bg, fg string) {
	sum := md5.Sum([]byte(strings.ToLower(text))) // #nosec G401 -- color derivation only

	// Reduce the 128-bit digest modulo 0xFFFFFF. Folding byte by byte keeps
	// the running value below 2^24, so the shifted intermediate fits in 64 bits.
	var v uint64
	for _, b := range sum {
		v = (v<<8 | uint64(b)) % 0xFFFFFF
	}

	blue := clampChannel(int(v & 0xFF))
	green := clampChannel(int(v >> 8 & 0xFF))
	red := clampChannel(int(v >> 16 & 0xFF))

	bg = fmt.Sprintf("%02x%02x%02x", red, green, blue)
	if 0.299*float64(red)+0.587*float64(green)+0.114*float64(blue) > luminanceThreshold {
		return bg, "000"
	}
	return bg, "fff"
}

func clampChannel(c int) int {
	return min(max(c, minChannel), maxChannel)
}
