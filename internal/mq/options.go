package mq

import (
	"io"
	"log/slog"
	"time"
)

// Option configures a provider
type Option func(*providerOptions)

type providerOptions struct {
	logger    *slog.Logger
	retryBase time.Duration
	retryMax  time.Duration
}

func defaultProviderOptions() providerOptions {
	return providerOptions{
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		retryBase: DefaultRetryBaseDelay,
		retryMax:  DefaultRetryMaxDelay,
	}
}

func applyOptions(opts []Option) providerOptions {
	o := defaultProviderOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// WithLogger sets the provider logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *providerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRetryBackoff overrides the base and cap of the retry backoff
func WithRetryBackoff(base, maxDelay time.Duration) Option {
	return func(o *providerOptions) {
		if base > 0 {
			o.retryBase = base
		}
		if maxDelay > 0 {
			o.retryMax = maxDelay
		}
	}
}
