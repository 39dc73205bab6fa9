// Package metrics defines the events recorded by the connection layer and the
// authorization router. Sinks such as PromSink and InfluxSink implement Sink
// and can be combined with NewMultiSink. NewSink builds the configured sinks
// through the factory registry, returning a MultiSink when several are set.
package metrics
