// Package infra holds the technical adapters: the websocket node endpoint,
// the MQTT and roaming authorization backends, metrics exporters, logging and
// error monitoring. These packages depend on the interfaces defined under
// core.
package infra
