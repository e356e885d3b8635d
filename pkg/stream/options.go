package stream

import (
	"golang.org/x/time/rate"

	"github.com/marmos91/nfsstream/internal/logger"
	"github.com/marmos91/nfsstream/pkg/blocking"
	"github.com/marmos91/nfsstream/pkg/bufpool"
	"github.com/marmos91/nfsstream/pkg/metrics"
)

type options struct {
	maxTransfer int
	pool        *blocking.Pool
	buffers     *bufpool.Pool
	metrics     metrics.StreamMetrics
	limiter     *rate.Limiter
	logCtx      *logger.LogContext
}

func defaultOptions() options {
	return options{
		maxTransfer: DefaultMaxTransfer,
		pool:        blocking.Default(),
		buffers:     bufpool.Default(),
	}
}

// Option configures a File.
type Option func(*options)

// WithMaxTransfer bounds every staging operation, and therefore every
// blocking read or write, to n bytes. Non-positive values keep the default.
func WithMaxTransfer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxTransfer = n
		}
	}
}

// WithPool runs blocking calls on p instead of blocking.Default().
func WithPool(p *blocking.Pool) Option {
	return func(o *options) {
		if p != nil {
			o.pool = p
		}
	}
}

// WithBufferPool draws staging storage from p.
func WithBufferPool(p *bufpool.Pool) Option {
	return func(o *options) {
		if p != nil {
			o.buffers = p
		}
	}
}

// WithMetrics enables call metrics. A nil value disables them.
func WithMetrics(m metrics.StreamMetrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLimiter throttles transfers: workers wait for one token per byte
// before every blocking read and write. A limiter with a finite limit and
// a zero burst can never grant a token and is ignored.
func WithLimiter(l *rate.Limiter) Option {
	return func(o *options) {
		if l != nil && l.Limit() != rate.Inf && l.Burst() < 1 {
			l = nil
		}
		o.limiter = l
	}
}

// WithLogContext attaches mount and path fields to the file's log lines.
func WithLogContext(lc *logger.LogContext) Option {
	return func(o *options) { o.logCtx = lc }
}
