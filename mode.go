package avatar

import "strings"

// ModeKind identifies an avatar source kind. Policies are parsed into
// tagged Mode values up front so resolution dispatches on the kind instead
// of re-examining descriptor strings.
type ModeKind int

// Known avatar mode kinds, in no particular order. The order avatars are
// tried in comes from the tenant's policy string, not from these values.
const (
	// ModeNone resolves to the configured default asset.
	ModeNone ModeKind = iota
	// ModeInitials resolves to a generated initials image.
	ModeInitials
	// ModeGravatar resolves via the Gravatar service.
	ModeGravatar
	// ModeAttribute resolves from a dotted path in the user's attributes.
	ModeAttribute
	// ModeURL resolves via a URL template with substitution placeholders.
	ModeURL
)

// String returns the kind's descriptor name, for logging and telemetry.
func (k ModeKind) String() string {
	switch k {
	case ModeNone:
		return "none"
	case ModeInitials:
		return "initials"
	case ModeGravatar:
		return "gravatar"
	case ModeAttribute:
		return "attribute"
	case ModeURL:
		return "url"
	default:
		return "unknown"
	}
}

// Mode is one parsed entry of a tenant's avatar policy.
type Mode struct {
	Kind ModeKind
	// Path is the dotted attribute path for ModeAttribute.
	Path string
	// Template is the URL template for ModeURL. It may contain
	// %(username)s, %(mail_hash)s and %(upn)s placeholders.
	Template string
}

const attributeModePrefix = "attributes."

// ParseModes parses a comma-separated avatar policy into an ordered list
// of modes. Unknown tokens are skipped; the result may be empty.
func ParseModes(policy string) []Mode {
	tokens := strings.Split(policy, ",")
	modes := make([]Mode, 0, len(tokens))
	for _, token := range tokens {
		token = strings.TrimSpace(token)
		switch {
		case token == "none":
			modes = append(modes, Mode{Kind: ModeNone})
		case token == "initials":
			modes = append(modes, Mode{Kind: ModeInitials})
		case token == "gravatar":
			modes = append(modes, Mode{Kind: ModeGravatar})
		case strings.HasPrefix(token, attributeModePrefix) && len(token) > len(attributeModePrefix):
			modes = append(modes, Mode{Kind: ModeAttribute, Path: token[len(attributeModePrefix):]})
		case strings.Contains(token, "://"):
			modes = append(modes, Mode{Kind: ModeURL, Template: token})
		}
	}
	return modes
}
