package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init()

	if CommandsFired == nil || CommandsRejected == nil || CurrencyAdjustments == nil {
		t.Fatal("counter vectors not initialized")
	}
	if DispatchDuration == nil {
		t.Fatal("DispatchDuration histogram not initialized")
	}
}

func TestCounterHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(CommandsFired.WithLabelValues("custom"))
	IncCommandFired("custom")
	IncCommandFired("custom")
	if got := testutil.ToFloat64(CommandsFired.WithLabelValues("custom")); got != before+2 {
		t.Errorf("commands fired = %v, want %v", got, before+2)
	}

	beforeRej := testutil.ToFloat64(CommandsRejected.WithLabelValues("cooldown"))
	IncCommandRejected("cooldown")
	if got := testutil.ToFloat64(CommandsRejected.WithLabelValues("cooldown")); got != beforeRej+1 {
		t.Errorf("commands rejected = %v, want %v", got, beforeRej+1)
	}

	UpdateChatGauge(true)
	if got := testutil.ToFloat64(ChatConnected); got != 1 {
		t.Errorf("chat gauge = %v, want 1", got)
	}
	UpdateChatGauge(false)
	if got := testutil.ToFloat64(ChatConnected); got != 0 {
		t.Errorf("chat gauge = %v, want 0", got)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()
	d := TimeFunc(DispatchDuration, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc returned %v, want >= 5ms", d)
	}
	if d := TimeFunc(nil, func() {}); d < 0 {
		t.Errorf("negative duration %v", d)
	}
}

func TestCorrelation(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation")
	}
	ctx = WithCorrelation(ctx, "abc")
	if GetCorrelation(ctx) != "abc" {
		t.Fatalf("got %q", GetCorrelation(ctx))
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("nil logger")
	}
}

func TestSamplerRatio(t *testing.T) {
	tests := map[string]struct {
		in      string
		want    float64
		wantErr bool
	}{
		"default":   {in: "", want: 1},
		"fraction":  {in: "0.25", want: 0.25},
		"too large": {in: "2", wantErr: true},
		"garbage":   {in: "all", wantErr: true},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := samplerRatio(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Fatalf("ratio = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitTracingDisabledWithoutEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	shutdown, err := InitTracing("firebot-test", "0")
	if err != nil {
		t.Fatal(err)
	}
	shutdown()
}
