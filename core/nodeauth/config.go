package nodeauth

import (
	"fmt"
	"strings"

	"github.com/kilianp07/chargenet/core/model"
)

const (
	DefaultTOTPHeader     = "X-TOTP"
	DefaultModeHeader     = "X-Networking-Mode"
	DefaultTOTPLength     = 12
	DefaultTOTPValidity   = 30
	DefaultTOTPAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxTOTPLength         = 32
	defaultWebsocketPath  = "/"
	defaultSubprotocolKey = "ocpp1.6"
)

// Credential holds the secrets a node may authenticate with. Password may be a
// bcrypt hash.
type Credential struct {
	NodeID     string `json:"node_id"`
	Password   string `json:"password"`
	TOTPSecret string `json:"totp_secret"`
}

// TOTPConfig shapes the rolling one-time codes.
type TOTPConfig struct {
	Length          int    `json:"length"`
	Alphabet        string `json:"alphabet"`
	ValiditySeconds int    `json:"validity_seconds"`
}

// Config defines the handshake acceptance policy.
type Config struct {
	RequireAuth  bool         `json:"require_auth"`
	Subprotocols []string     `json:"subprotocols"`
	Credentials  []Credential `json:"credentials"`
	TOTP         TOTPConfig   `json:"totp"`
	TOTPHeader   string       `json:"totp_header"`
	ModeHeader   string       `json:"networking_mode_header"`
	// PathPrefix is where the websocket endpoint is mounted; the path segment
	// following it may carry the node id.
	PathPrefix string `json:"path_prefix"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if len(c.Subprotocols) == 0 {
		c.Subprotocols = []string{defaultSubprotocolKey}
	}
	if c.TOTPHeader == "" {
		c.TOTPHeader = DefaultTOTPHeader
	}
	if c.ModeHeader == "" {
		c.ModeHeader = DefaultModeHeader
	}
	if c.PathPrefix == "" {
		c.PathPrefix = defaultWebsocketPath
	}
	c.TOTP.SetDefaults()
}

// SetDefaults applies sane defaults.
func (c *TOTPConfig) SetDefaults() {
	if c.Length == 0 {
		c.Length = DefaultTOTPLength
	}
	if c.Alphabet == "" {
		c.Alphabet = DefaultTOTPAlphabet
	}
	if c.ValiditySeconds == 0 {
		c.ValiditySeconds = DefaultTOTPValidity
	}
}

// Validate checks the code shape.
func (c TOTPConfig) Validate() error {
	if c.Length <= 0 || c.Length > maxTOTPLength {
		return fmt.Errorf("totp length must be between 1 and %d", maxTOTPLength)
	}
	if len(c.Alphabet) < 2 {
		return fmt.Errorf("totp alphabet needs at least two characters")
	}
	if c.ValiditySeconds <= 0 {
		return fmt.Errorf("totp validity must be positive")
	}
	return nil
}

// Validate checks mandatory fields.
func (c Config) Validate() error {
	for _, p := range c.Subprotocols {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("empty subprotocol")
		}
	}
	seen := make(map[string]bool, len(c.Credentials))
	for _, cred := range c.Credentials {
		if cred.NodeID == "" {
			return fmt.Errorf("credential without node_id")
		}
		if id := model.NodeID(cred.NodeID); id.IsBroadcast() {
			return fmt.Errorf("credential for reserved node id %q", cred.NodeID)
		}
		if seen[cred.NodeID] {
			return fmt.Errorf("duplicate credential for %s", cred.NodeID)
		}
		seen[cred.NodeID] = true
	}
	return c.TOTP.Validate()
}
