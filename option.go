package x402

import (
	"time"

	"github.com/slavaghoul1337-coder/genge/clients"
	"github.com/slavaghoul1337-coder/genge/ledger"
	"github.com/slavaghoul1337-coder/genge/logger"
	"github.com/slavaghoul1337-coder/genge/metrics"
	"github.com/slavaghoul1337-coder/genge/mint"
)

type Option func(*X402)

func WithLogger(l logger.Logger) Option {
	return func(x *X402) {
		if l != nil {
			x.logger = l
		}
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(x *X402) {
		if r != nil {
			x.metrics = r
		}
	}
}

// WithTimeout bounds each claim. It is also advertised as maxTimeoutSeconds.
func WithTimeout(t time.Duration) Option {
	return func(x *X402) {
		if t > 0 {
			x.timeout = t
		}
	}
}

// WithLedger replaces the ledger selected by LEDGER_BACKEND.
func WithLedger(l ledger.Ledger) Option {
	return func(x *X402) {
		x.ledger = l
	}
}

// WithBackend reads the chain through eth instead of dialing RPC_URL.
func WithBackend(eth clients.EthBackend) Option {
	return func(x *X402) {
		x.backend = eth
	}
}

func WithAttester(a clients.Attester) Option {
	return func(x *X402) {
		x.attester = a
	}
}

func WithPublisher(p mint.Publisher) Option {
	return func(x *X402) {
		x.publisher = p
	}
}
