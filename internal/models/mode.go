package models

import (
	"fmt"
	"strings"
)

// Mode selects what a running bridge may do with the search engine
type Mode int

const (
	ModeOnlySave Mode = iota
	ModeOnlyQuery
	ModeAll
)

// Capability is an action gated by the operating mode
type Capability string

const (
	CapabilityWrite Capability = "write"
	CapabilityRead  Capability = "read"
)

// ParseMode accepts the config names and their descriptive aliases
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "only_save", "write-only", "0":
		return ModeOnlySave, nil
	case "only_query", "read-only", "1":
		return ModeOnlyQuery, nil
	case "all", "read-and-write", "2":
		return ModeAll, nil
	default:
		return 0, fmt.Errorf("unknown operating mode %q", s)
	}
}

func (m Mode) String() string {
	switch m {
	case ModeOnlySave:
		return "only_save"
	case ModeOnlyQuery:
		return "only_query"
	case ModeAll:
		return "all"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText lets the mode render by name in JSON and YAML
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name
func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func (m Mode) CanWrite() bool { return m == ModeOnlySave || m == ModeAll }
func (m Mode) CanRead() bool  { return m == ModeOnlyQuery || m == ModeAll }

// RequireWrite returns a *ModeError unless the mode permits indexing
func (m Mode) RequireWrite() error {
	if !m.CanWrite() {
		return &ModeError{Mode: m, Capability: CapabilityWrite}
	}
	return nil
}

// RequireRead returns a *ModeError unless the mode permits queries
func (m Mode) RequireRead() error {
	if !m.CanRead() {
		return &ModeError{Mode: m, Capability: CapabilityRead}
	}
	return nil
}

// ModeError reports an action not permitted under the running mode
type ModeError struct {
	Mode       Mode
	Capability Capability
}

func (e *ModeError) Error() string {
	return fmt.Sprintf("%s not permitted in %s mode", e.Capability, e.Mode)
}

// ModeController holds the process-wide mode chosen at startup
type ModeController struct {
	mode Mode
}

// NewModeController fixes the mode for the lifetime of the process
func NewModeController(mode Mode) *ModeController {
	return &ModeController{mode: mode}
}

// Mode returns the running mode
func (c *ModeController) Mode() Mode {
	return c.mode
}
