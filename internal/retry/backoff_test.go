package retry

import (
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestBackoffDelays(t *testing.T) {
	tests := []struct {
		name     string
		alg      Algorithm
		attempt  int
		failures int
		want     time.Duration
	}{
		{"exponential attempt 0", AlgorithmExponential, 0, 0, 100 * time.Millisecond},
		{"exponential attempt 1", AlgorithmExponential, 1, 0, 200 * time.Millisecond},
		{"exponential attempt 2", AlgorithmExponential, 2, 0, 400 * time.Millisecond},
		{"linear attempt 0", AlgorithmLinear, 0, 0, 100 * time.Millisecond},
		{"linear attempt 1", AlgorithmLinear, 1, 0, 200 * time.Millisecond},
		{"linear attempt 2", AlgorithmLinear, 2, 0, 300 * time.Millisecond},
		{"fixed attempt 0", AlgorithmFixed, 0, 0, 100 * time.Millisecond},
		{"fixed attempt 5", AlgorithmFixed, 5, 0, 100 * time.Millisecond},
		{"adaptive at threshold", AlgorithmAdaptive, 1, 3, 200 * time.Millisecond},
		{"adaptive past threshold", AlgorithmAdaptive, 1, 4, 300 * time.Millisecond},
		{"adaptive past threshold attempt 2", AlgorithmAdaptive, 2, 5, 600 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Policy{
				Algorithm: tt.alg,
				BaseDelay: 100 * time.Millisecond,
				MaxDelay:  10 * time.Second,
			}
			if got := p.backoffDelay(tt.attempt, tt.failures); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestBackoffClampsToMaxDelay(t *testing.T) {
	p := Policy{
		Algorithm: AlgorithmExponential,
		BaseDelay: time.Second,
		MaxDelay:  2 * time.Second,
	}

	if got := p.backoffDelay(10, 0); got != 2*time.Second {
		t.Errorf("Expected clamp at 2s, got %v", got)
	}

	p.Algorithm = AlgorithmLinear
	if got := p.backoffDelay(9, 0); got != 2*time.Second {
		t.Errorf("Expected linear clamp at 2s, got %v", got)
	}
}

func TestBackoffOverflowGuard(t *testing.T) {
	p := Policy{
		Algorithm: AlgorithmExponential,
		BaseDelay: time.Hour,
		MaxDelay:  24 * time.Hour,
	}

	if got := p.backoffDelay(500, 0); got != 24*time.Hour {
		t.Errorf("Expected clamp for huge attempt counts, got %v", got)
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := []struct {
		in     string
		want   Algorithm
		wantOK bool
	}{
		{"exponential", AlgorithmExponential, true},
		{"linear", AlgorithmLinear, true},
		{"fixed", AlgorithmFixed, true},
		{"adaptive", AlgorithmAdaptive, true},
		{"", AlgorithmExponential, true},
		{"fibonacci", AlgorithmExponential, false},
	}

	for _, tt := range tests {
		got, ok := ParseAlgorithm(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseAlgorithm(%q) = %v, %v; expected %v, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestEngineJitter(t *testing.T) {
	e := NewEngine(Policy{
		Algorithm:    AlgorithmExponential,
		BaseDelay:    100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		JitterFactor: 0.5,
		MaxAttempts:  3,
	}, nil, nil)

	e.rand = func() float64 { return 1.0 }
	d, source := e.delay(0, errors.New("plain failure"))
	if source != "backoff" {
		t.Errorf("Expected backoff source, got %s", source)
	}
	if d != 150*time.Millisecond {
		t.Errorf("Expected full jitter of 150ms, got %v", d)
	}

	e.rand = func() float64 { return 0 }
	if d, _ := e.delay(0, errors.New("plain failure")); d != 100*time.Millisecond {
		t.Errorf("Expected no jitter at rand 0, got %v", d)
	}
}

func TestProviderDelayPrecedence(t *testing.T) {
	now := time.Now()

	hdr := http.Header{}
	hdr.Set("Retry-After-Ms", "250")
	hdr.Set("Retry-After", "3")
	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(30*time.Second).Unix(), 10))

	err := &StatusError{Code: 429, Header: hdr}
	d, ok := providerDelay(err, now)
	if !ok || d != 250*time.Millisecond {
		t.Errorf("Expected ms header to win with 250ms, got %v (ok=%v)", d, ok)
	}

	hdr.Del("Retry-After-Ms")
	d, ok = providerDelay(err, now)
	if !ok || d != 3*time.Second {
		t.Errorf("Expected Retry-After seconds of 3s, got %v (ok=%v)", d, ok)
	}

	hdr.Set("Retry-After", now.Add(5*time.Second).UTC().Format(http.TimeFormat))
	d, ok = providerDelay(err, now)
	if !ok || d <= 3*time.Second || d > 5*time.Second {
		t.Errorf("Expected HTTP-date delay near 5s, got %v (ok=%v)", d, ok)
	}

	hdr.Del("Retry-After")
	d, ok = providerDelay(err, now)
	if !ok || d <= 25*time.Second || d > 30*time.Second {
		t.Errorf("Expected rate-limit reset delay near 30s, got %v (ok=%v)", d, ok)
	}

	hdr.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(-time.Minute).Unix(), 10))
	d, ok = providerDelay(err, now)
	if !ok || d != 0 {
		t.Errorf("Expected zero delay for a past reset, got %v (ok=%v)", d, ok)
	}

	if _, ok := providerDelay(&StatusError{Code: 429, Header: http.Header{}}, now); ok {
		t.Error("Expected no provider delay without headers")
	}
	if _, ok := providerDelay(errors.New("not http"), now); ok {
		t.Error("Expected no provider delay for non-status errors")
	}
}

func TestProviderDelayCappedByEngine(t *testing.T) {
	e := NewEngine(Policy{
		Algorithm:   AlgorithmFixed,
		BaseDelay:   10 * time.Millisecond,
		MaxDelay:    time.Second,
		MaxAttempts: 2,
	}, nil, nil)

	hdr := http.Header{}
	hdr.Set("Retry-After", "3600")
	d, source := e.delay(0, &StatusError{Code: 429, Header: hdr})
	if source != "provider" {
		t.Errorf("Expected provider source, got %s", source)
	}
	if d != time.Second {
		t.Errorf("Expected provider delay capped at 1s, got %v", d)
	}
}
