// Package retry executes remote operations with transient-error
// classification and capped exponential backoff plus jitter.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"

	"google.golang.org/api/googleapi"
)

// Kind classifies a failed attempt.
type Kind int

const (
	// Fatal errors propagate immediately and are never retried.
	Fatal Kind = iota
	// Transient errors are worth another attempt.
	Transient
)

// Policy holds immutable retry configuration for one call.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first (>= 1).
	MaxAttempts int
	// BaseDelay is the backoff before the second attempt.
	BaseDelay time.Duration
	// Cap bounds the exponential part of the backoff.
	Cap time.Duration
}

// DefaultPolicy returns the policy used for Drive and Dropbox calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   5 * time.Second,
		Cap:         60 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Cap <= 0 {
		p.Cap = 60 * time.Second
	}
	return p
}

// transientMarkers is matched case-insensitively against error text when the
// error is neither a recognized network error nor carries an HTTP status.
// Deliberately permissive: a false positive only costs extra attempts.
var transientMarkers = []string{
	"connection reset",
	"connection aborted",
	"timed out",
	"timeout",
	"temporarily unavailable",
	"remote host",
	"10053",
	"10054",
	"tls",
	"ssl",
	"chunkedencodingerror",
	"incompleteread",
}

var retryableStatus = map[int]bool{
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

// Classify reports whether err looks like a temporary network/service
// condition (Transient) or a permanent failure (Fatal). Context cancellation
// is always Fatal.
func Classify(err error) Kind {
	if err == nil {
		return Fatal
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED) {
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if retryableStatus[apiErr.Code] {
			return Transient
		}
		return Fatal
	}
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		if retryableStatus[statusErr.HTTPStatus()] {
			return Transient
		}
		return Fatal
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return Transient
		}
	}
	return Fatal
}

// Backoff computes the sleep after a failed attempt n (1-indexed):
// min(cap, base*2^(n-1)) plus up to 25% uniform jitter. rnd supplies values
// in [0,1); pass nil for real randomness.
func Backoff(p Policy, attempt int, rnd func() float64) time.Duration {
	p = p.withDefaults()
	if rnd == nil {
		rnd = rand.Float64
	}
	if attempt < 1 {
		attempt = 1
	}

	expo := p.BaseDelay
	for i := 1; i < attempt; i++ {
		expo *= 2
		if expo >= p.Cap {
			break
		}
	}
	if expo > p.Cap {
		expo = p.Cap
	}

	jitter := time.Duration(rnd() * 0.25 * float64(expo))
	return expo + jitter
}

// Executor runs operations under a Policy. Sleep and Rand are overridable so
// tests can run without real delays.
type Executor struct {
	Policy Policy
	Logger *slog.Logger

	// Sleep waits for d or until ctx is done. Defaults to a ctx-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand supplies jitter values in [0,1). Defaults to math/rand.
	Rand func() float64
}

// New returns an Executor with the given policy and the default logger.
func New(p Policy) *Executor {
	return &Executor{Policy: p.withDefaults(), Logger: slog.Default()}
}

// Do invokes fn until it succeeds, fails fatally, or MaxAttempts is reached.
// The last error is returned unchanged so callers observe the true cause.
func (e *Executor) Do(ctx context.Context, desc string, fn func(context.Context) error) error {
	p := e.Policy.withDefaults()
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sleep := e.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if Classify(err) == Fatal || attempt == p.MaxAttempts {
			return lastErr
		}

		delay := Backoff(p, attempt, e.Rand)
		logger.Warn("retrying after transient error",
			"op", desc,
			"attempt", fmt.Sprintf("%d/%d", attempt, p.MaxAttempts),
			"error_type", fmt.Sprintf("%T", err),
			"error", err,
			"backoff", delay)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return lastErr
}

// Do is a convenience wrapper using a one-off Executor.
func Do(ctx context.Context, p Policy, desc string, fn func(context.Context) error) error {
	return New(p).Do(ctx, desc, fn)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
