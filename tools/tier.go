package tools

import (
	"fmt"
	"strings"
)

// Tier is the risk class of a tool.
type Tier string

const (
	// TierSafe tools have no externally irreversible effect and run
	// without confirmation.
	TierSafe Tier = "safe"
	// TierSensitive tools have irreversible or costly effects and run only
	// after explicit approval.
	TierSensitive Tier = "sensitive"
	// TierControl tools are interpreted by the engine itself (escalation
	// and delegation) and have no handler.
	TierControl Tier = "control"
)

// ParseTier converts s into a Tier, ignoring case and surrounding space.
func ParseTier(s string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(s))); t {
	case TierSafe, TierSensitive, TierControl:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}

func (t Tier) String() string { return string(t) }

// UnmarshalText lets tiers be decoded from config files.
func (t *Tier) UnmarshalText(text []byte) error {
	parsed, err := ParseTier(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
