package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// KeyMode determines whether a Channel carries a single API key or a
// managed list of additional keys.
const (
	KeyModeSingle = "single"
	KeyModeMulti  = "multi"
)

// TriState is a nullable boolean: a probe outcome that has never been
// recorded is neither true nor false.
type TriState struct {
	Valid bool
	Bool  bool
}

// TriTrue/TriFalse build a TriState the way a constructor would; the
// zero TriState is the unknown value.
func TriTrue() TriState  { return TriState{Valid: true, Bool: true} }
func TriFalse() TriState { return TriState{Valid: true, Bool: false} }

var baseURLPattern = regexp.MustCompile(`^https?://[^\s]+[^/]$`)

// ChannelKey is one of a Channel's additional API keys, tracked
// independently of the primary key so a single bad key doesn't sideline
// the whole channel.
type ChannelKey struct {
	ID            int64
	ChannelID     int64
	APIKey        string
	LastValid     TriState
	LastCheckedAt *time.Time
}

// Channel is a configured upstream: a base URL plus credentials.
type Channel struct {
	ID             int64
	Name           string
	BaseURL        string
	PrimaryAPIKey  string
	AdditionalKeys []ChannelKey
	KeyMode        string
	ProxyURL       string
	Enabled        bool
	SortOrder      int
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Models is populated by LoadEnabledChannels(withModels=true); it is
	// never persisted as a column on this row.
	Models []*Model
}

// Validate enforces the invariants from the data model: single-key
// channels carry no additional keys, the primary key is never blank,
// and the base URL has no trailing slash.
func (c *Channel) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return errors.New("channel name cannot be empty")
	}
	if strings.TrimSpace(c.PrimaryAPIKey) == "" {
		return errors.New("primary api key cannot be empty")
	}
	if !baseURLPattern.MatchString(c.BaseURL) {
		return errors.New("base url must be http(s) and have no trailing slash")
	}
	switch c.KeyMode {
	case "":
		c.KeyMode = KeyModeSingle
	case KeyModeSingle:
		if len(c.AdditionalKeys) != 0 {
			return errors.New("single key mode cannot carry additional keys")
		}
	case KeyModeMulti:
		// no further constraint
	default:
		return errors.New("invalid key mode: " + c.KeyMode)
	}
	return nil
}

// NormalizeBaseURL strips exactly one trailing slash, the form every
// probe strategy assumes its baseUrl argument is already in.
func NormalizeBaseURL(raw string) string {
	return strings.TrimSuffix(raw, "/")
}
