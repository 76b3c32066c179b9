package megalodon

import (
	"math"
	"net/http"
	"time"
)

// ============================================================================
// Failure classification
// ============================================================================

// FailureKind classifies why the previous connection attempt ended.
type FailureKind int

const (
	// FailureNormal is an unclassified transport drop.
	FailureNormal FailureKind = iota
	FailureRateLimited
	FailureServerError
	FailureStall
	FailureUnauthorized
	FailurePermanent
)

func (k FailureKind) String() string {
	switch k {
	case FailureNormal:
		return "normal"
	case FailureRateLimited:
		return "rate_limited"
	case FailureServerError:
		return "server_error"
	case FailureStall:
		return "stall"
	case FailureUnauthorized:
		return "unauthorized"
	case FailurePermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// ClassifyStatus maps a handshake HTTP status onto a failure kind.
func ClassifyStatus(code int) FailureKind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return FailureUnauthorized
	case code == http.StatusBadRequest, code == http.StatusNotFound,
		code == http.StatusNotAcceptable, code == http.StatusGone,
		code == http.StatusUnprocessableEntity:
		return FailurePermanent
	case code == 420, code == http.StatusTooManyRequests:
		return FailureRateLimited
	case code >= 500:
		return FailureServerError
	default:
		return FailureNormal
	}
}

func failureOf(err error) FailureKind {
	switch ClassOf(err) {
	case ClassUnauthorized:
		return FailureUnauthorized
	case ClassPermanent:
		return FailurePermanent
	case ClassRateLimited:
		return FailureRateLimited
	case ClassServerError:
		return FailureServerError
	case ClassStall:
		return FailureStall
	default:
		return FailureNormal
	}
}

// backoffClass groups failure kinds that share one delay curve.
func backoffClass(k FailureKind) FailureKind {
	if k == FailureStall {
		return FailureNormal
	}
	return k
}

// ============================================================================
// Retry context
// ============================================================================

// RetryContext is the reconnect bookkeeping owned by one Stream.
type RetryContext struct {
	// Attempt counts consecutive failures of the same backoff class.
	Attempt uint
	// Total counts every failure since the last successful connection.
	Total            uint
	LastFailure      FailureKind
	SessionChannelID string
}

// Record notes a failure. Attempt restarts at one when the backoff class
// changes, so a server error after a run of network drops starts at the
// server-error base delay.
func (r *RetryContext) Record(kind FailureKind) {
	if backoffClass(kind) != backoffClass(r.LastFailure) {
		r.Attempt = 0
	}
	r.Attempt++
	r.Total++
	r.LastFailure = kind
}

// Reset clears the counters after a successful connection.
func (r *RetryContext) Reset() {
	r.Attempt = 0
	r.Total = 0
	r.LastFailure = FailureNormal
}

// ============================================================================
// Reconnect policy
// ============================================================================

// ReconnectPolicy computes reconnect delays. Network drops and stalls retry
// immediately first and then back off linearly; classified server responses
// back off exponentially from the first retry.
type ReconnectPolicy struct {
	RateLimitBase   time.Duration
	ServerErrorBase time.Duration
	ServerErrorMax  time.Duration
	NetworkStep     time.Duration
	NetworkMax      time.Duration
	// MaxAttempts bounds the failures tolerated since the last successful
	// connection. Zero means unbounded.
	MaxAttempts uint
}

// DefaultReconnectPolicy returns the stock delays.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		RateLimitBase:   60 * time.Second,
		ServerErrorBase: 5 * time.Second,
		ServerErrorMax:  320 * time.Second,
		NetworkStep:     250 * time.Millisecond,
		NetworkMax:      16 * time.Second,
	}
}

func (p *ReconnectPolicy) defaults() {
	d := DefaultReconnectPolicy()
	if p.RateLimitBase == 0 {
		p.RateLimitBase = d.RateLimitBase
	}
	if p.ServerErrorBase == 0 {
		p.ServerErrorBase = d.ServerErrorBase
	}
	if p.ServerErrorMax == 0 {
		p.ServerErrorMax = d.ServerErrorMax
	}
	if p.NetworkStep == 0 {
		p.NetworkStep = d.NetworkStep
	}
	if p.NetworkMax == 0 {
		p.NetworkMax = d.NetworkMax
	}
}

// NextDelay returns the wait before the next attempt, and false when the
// stream must not reconnect at all.
func (p ReconnectPolicy) NextDelay(ctx RetryContext) (time.Duration, bool) {
	if p.MaxAttempts > 0 && ctx.Total > p.MaxAttempts {
		return 0, false
	}
	n := ctx.Attempt
	if n == 0 {
		n = 1
	}
	switch ctx.LastFailure {
	case FailureUnauthorized, FailurePermanent:
		return 0, false
	case FailureRateLimited:
		return exponential(p.RateLimitBase, n, 0), true
	case FailureServerError:
		return exponential(p.ServerErrorBase, n, p.ServerErrorMax), true
	default:
		d := time.Duration(n-1) * p.NetworkStep
		if d > p.NetworkMax {
			d = p.NetworkMax
		}
		return d, true
	}
}

// exponential returns base*2^(n-1), capped at ceiling when ceiling is
// positive and saturating instead of overflowing.
func exponential(base time.Duration, n uint, ceiling time.Duration) time.Duration {
	limit := time.Duration(math.MaxInt64)
	if ceiling > 0 {
		limit = ceiling
	}
	d := base
	for i := uint(1); i < n; i++ {
		if d > limit/2 {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}
