package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"syscall"
	"time"
)

// Provider delay headers, in precedence order.
const (
	headerRetryAfterMs   = "Retry-After-Ms"
	headerRetryAfter     = "Retry-After"
	headerRateLimitReset = "X-RateLimit-Reset"
)

// StatusError carries an upstream HTTP status and response headers so
// retry decisions can classify the failure and honor provider delay
// hints.
type StatusError struct {
	Code   int
	Header http.Header
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d", e.Code)
	}
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// Retryable reports whether an attempt error is worth retrying.
// Network-level failures and HTTP 408, 429 and 5xx (except 501) retry;
// every other HTTP status and local error is terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		switch se.Code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return true
		}
		return se.Code >= 500 && se.Code <= 599 && se.Code != http.StatusNotImplemented
	}

	return isNetworkError(err)
}

func isNetworkError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// providerDelay extracts a provider-specified retry delay from err.
// Precedence: millisecond header, then Retry-After (seconds or
// HTTP-date), then the rate-limit reset timestamp.
func providerDelay(err error, now time.Time) (time.Duration, bool) {
	var se *StatusError
	if !errors.As(err, &se) || se.Header == nil {
		return 0, false
	}

	if v := se.Header.Get(headerRetryAfterMs); v != "" {
		if ms, perr := strconv.ParseInt(v, 10, 64); perr == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond, true
		}
	}

	if v := se.Header.Get(headerRetryAfter); v != "" {
		if secs, perr := strconv.ParseInt(v, 10, 64); perr == nil && secs >= 0 {
			return time.Duration(secs) * time.Second, true
		}
		if at, perr := http.ParseTime(v); perr == nil {
			if d := at.Sub(now); d > 0 {
				return d, true
			}
			return 0, true
		}
	}

	if v := se.Header.Get(headerRateLimitReset); v != "" {
		if unix, perr := strconv.ParseInt(v, 10, 64); perr == nil && unix > 0 {
			if d := time.Unix(unix, 0).Sub(now); d > 0 {
				return d, true
			}
			return 0, true
		}
	}

	return 0, false
}
