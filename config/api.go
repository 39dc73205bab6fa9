package config

// APIConfig protects the read-only HTTP endpoints mounted next to the node
// endpoint. An empty token leaves them open.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
}
