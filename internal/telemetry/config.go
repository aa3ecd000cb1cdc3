package telemetry

// instrumentationScope names the tracer when no service name is available.
const instrumentationScope = "github.com/stagefs/stagefs/internal/telemetry"

// Config holds the trace pipeline settings.
type Config struct {
	// Enabled switches span export on. When false every span is a no-op.
	Enabled bool

	// ServiceName and ServiceVersion identify this process in the backend.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the OTLP gRPC collector ("host:port").
	Endpoint string

	// Insecure disables TLS towards the collector.
	Insecure bool

	// SampleRate is the fraction of traces to keep, 0.0 to 1.0.
	SampleRate float64
}

// ProfilingConfig holds the continuous profiling settings.
type ProfilingConfig struct {
	// Enabled switches profile upload on.
	Enabled bool

	// ServiceName and ServiceVersion tag the uploaded profiles.
	ServiceName    string
	ServiceVersion string

	// Endpoint is the Pyroscope server URL ("http://host:4040").
	Endpoint string

	// ProfileTypes selects which profiles to collect. See profileTypes
	// for the accepted names.
	ProfileTypes []string
}

// DefaultConfig returns the trace settings used when the config file has
// no telemetry section: disabled, pointed at a local collector.
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    "stagefs",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
