package telemetry

// Config controls the OTLP/gRPC trace exporter.
type Config struct {
	// Enabled controls whether tracing is initialized at all.
	Enabled bool

	// ServiceName is reported as the resource's service.name attribute.
	ServiceName string

	// ServiceVersion is reported as the resource's service.version attribute.
	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// Insecure disables TLS on the gRPC connection to Endpoint.
	Insecure bool

	// SampleRatio is the fraction of traces sampled, in [0,1]. 1 always
	// samples, 0 never samples, anything between is ratio-based.
	SampleRatio float64
}

// DefaultConfig returns a disabled configuration, matching the broker's
// zero-config default of no tracing until a collector is configured.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "rdmnetbroker",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRatio:    1.0,
	}
}
