// Package otel exports execgate spans over OTLP. Tracing is off unless
// enabled in config or with --otel.
package otel

import (
	"errors"
	"fmt"
	"os"
)

const (
	ProtocolHTTP = "otlphttp"
	ProtocolGRPC = "otlpgrpc"
)

type Config struct {
	Enabled bool `yaml:"enabled"`
	// Endpoint is host:port for grpc or a URL for http. Empty falls back to
	// OTEL_EXPORTER_OTLP_ENDPOINT, then the collector's local default.
	Endpoint    string            `yaml:"endpoint"`
	Protocol    string            `yaml:"protocol"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
	ServiceName string            `yaml:"service_name"`
	SampleRatio float64           `yaml:"sample_ratio"`
}

func DefaultConfig() Config {
	return Config{
		Protocol:    ProtocolHTTP,
		ServiceName: "execgate",
		SampleRatio: 1.0,
	}
}

// Validate is a no-op while tracing is disabled.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	var errs []error
	if c.Protocol != ProtocolHTTP && c.Protocol != ProtocolGRPC {
		errs = append(errs, fmt.Errorf("otel: protocol must be %q or %q, got %q", ProtocolHTTP, ProtocolGRPC, c.Protocol))
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		errs = append(errs, errors.New("otel: sample_ratio must be between 0 and 1"))
	}
	if c.ServiceName == "" {
		errs = append(errs, errors.New("otel: service_name must not be empty"))
	}
	for k := range c.Headers {
		if k == "" {
			errs = append(errs, errors.New("otel: header names must not be empty"))
			break
		}
	}
	return errors.Join(errs...)
}

// ResolvedEndpoint returns the exporter target.
func (c Config) ResolvedEndpoint() string {
	if c.Endpoint != "" {
		return c.Endpoint
	}
	if env := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); env != "" {
		return env
	}
	if c.Protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318"
}
