package ws

import (
	"fmt"
	"time"
)

const (
	DefaultAddress       = ":8080"
	DefaultSendQueueSize = 64
	DefaultPingInterval  = 30
	DefaultWriteTimeout  = 10
	DefaultSendTimeout   = 10
	DefaultReadLimit     = 1 << 20
)

// Config defines the websocket listener.
type Config struct {
	Address             string `json:"address"`
	SendQueueSize       int    `json:"send_queue_size"`
	PingIntervalSeconds int    `json:"ping_interval_seconds"`
	WriteTimeoutSeconds int    `json:"write_timeout_seconds"`
	SendTimeoutSeconds  int    `json:"send_timeout_seconds"`
	ReadLimitBytes      int64  `json:"read_limit_bytes"`
	TLSCertFile         string `json:"tls_cert_file"`
	TLSKeyFile          string `json:"tls_key_file"`
	ClientCAFile        string `json:"client_ca_file"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.SendQueueSize == 0 {
		c.SendQueueSize = DefaultSendQueueSize
	}
	if c.PingIntervalSeconds == 0 {
		c.PingIntervalSeconds = DefaultPingInterval
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = DefaultWriteTimeout
	}
	if c.SendTimeoutSeconds == 0 {
		c.SendTimeoutSeconds = DefaultSendTimeout
	}
	if c.ReadLimitBytes == 0 {
		c.ReadLimitBytes = DefaultReadLimit
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SendQueueSize < 1 {
		return fmt.Errorf("server.send_queue_size must be positive")
	}
	if c.PingIntervalSeconds < 0 || c.WriteTimeoutSeconds < 1 || c.SendTimeoutSeconds < 1 {
		return fmt.Errorf("server: timeouts must be positive")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("server: tls_cert_file and tls_key_file must be set together")
	}
	if c.ClientCAFile != "" && c.TLSCertFile == "" {
		return fmt.Errorf("server: client_ca_file requires TLS")
	}
	return nil
}

// PingInterval returns the keep-alive period. Zero disables pings.
func (c Config) PingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

// WriteTimeout bounds a single websocket write.
func (c Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// SendTimeout is the dispatcher deadline for one outbound frame.
func (c Config) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}
