// pkg/telemetry/otel_test.go
package telemetry

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/YaganovValera/analytics-system/services/trade-buckets/pkg/logger"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"missing endpoint", Config{ServiceName: "trade-buckets", ServiceVersion: "v1"}, "endpoint"},
		{"missing service name", Config{Endpoint: "otel:4317", ServiceVersion: "v1"}, "service name"},
		{"missing version", Config{Endpoint: "otel:4317", ServiceName: "trade-buckets"}, "service version"},
		{"all set", Config{Endpoint: "otel:4317", ServiceName: "trade-buckets", ServiceVersion: "v1"}, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := validateConfig(tc.cfg)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err = %v; want mention of %q", err, tc.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	tests := []struct {
		name        string
		in          Config
		wantRatio   float64
		wantTimeout time.Duration
		wantPeriod  time.Duration
	}{
		{"zero values", Config{}, 1.0, 5 * time.Second, 5 * time.Second},
		{"negative ratio", Config{SamplerRatio: -0.5}, 1.0, 5 * time.Second, 5 * time.Second},
		{"ratio above one", Config{SamplerRatio: 1.5}, 1.0, 5 * time.Second, 5 * time.Second},
		{"custom values kept", Config{SamplerRatio: 0.25, Timeout: 2 * time.Second, ReconnectPeriod: time.Second},
			0.25, 2 * time.Second, time.Second},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.in
			applyDefaults(&cfg)
			if cfg.SamplerRatio != tc.wantRatio {
				t.Errorf("SamplerRatio = %v; want %v", cfg.SamplerRatio, tc.wantRatio)
			}
			if cfg.Timeout != tc.wantTimeout {
				t.Errorf("Timeout = %v; want %v", cfg.Timeout, tc.wantTimeout)
			}
			if cfg.ReconnectPeriod != tc.wantPeriod {
				t.Errorf("ReconnectPeriod = %v; want %v", cfg.ReconnectPeriod, tc.wantPeriod)
			}
		})
	}
}

func TestInitTracer_InvalidConfig(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{ServiceName: "trade-buckets"}, logger.NewNop())
	if err == nil {
		t.Fatal("expected validation error")
	}
	if shutdown != nil {
		t.Fatal("shutdown func returned on error")
	}
}

func TestInitTracer_InstallsProvider(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), Config{
		Endpoint:       "localhost:4317",
		ServiceName:    "trade-buckets",
		ServiceVersion: "v0.1",
		Insecure:       true,
		SamplerRatio:   0.5,
		Timeout:        time.Second,
	}, logger.NewNop())
	if err != nil {
		t.Fatalf("InitTracer: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Errorf("global provider = %T; want *sdktrace.TracerProvider", otel.GetTracerProvider())
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
