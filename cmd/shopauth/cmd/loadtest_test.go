package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/storefront/shopauth"
)

func TestPercentile(t *testing.T) {
	samples := make([]time.Duration, 100)
	for i := range samples {
		samples[i] = time.Duration(i+1) * time.Millisecond
	}
	if got := percentile(samples, 50); got != 50*time.Millisecond {
		t.Errorf("p50 = %v, want 50ms", got)
	}
	if got := percentile(samples, 99); got != 99*time.Millisecond {
		t.Errorf("p99 = %v, want 99ms", got)
	}
	if got := percentile(samples, 100); got != 100*time.Millisecond {
		t.Errorf("p100 = %v, want 100ms", got)
	}
	if got := percentile(nil, 50); got != 0 {
		t.Errorf("empty p50 = %v, want 0", got)
	}
}

func TestOutcomeLabel(t *testing.T) {
	cases := map[string]error{
		"success":   nil,
		"reuse":     shopauth.ErrTokenReuseDetected,
		"not_found": shopauth.ErrSessionNotFound,
		"invalid":   shopauth.ErrInvalidRefreshToken,
		"error":     errors.New("boom"),
	}
	for want, err := range cases {
		if got := outcomeLabel(err); got != want {
			t.Errorf("outcomeLabel(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestLoadtestOnMiniredis(t *testing.T) {
	t.Setenv("REDIS_ADDR", "")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"loadtest", "--users", "8", "--concurrency", "4", "--ops", "64", "--races", "8", "--contenders", "4"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("loadtest: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "violations=0") {
		t.Errorf("output missing violations=0:\n%s", out.String())
	}
}
