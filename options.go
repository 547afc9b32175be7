// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package ioq

import "github.com/joeycumines/logiface"

// config holds the resolved configuration shared by RunQueue, Queue and
// Resolver constructors.
type config struct {
	logger          Logger
	metrics         *Metrics
	resolverWorkers uint
}

// Option configures a RunQueue, Queue, or Resolver instance.
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(cfg *config) { f(cfg) }

// WithLogger sets the Logger used for the RunQueue start-up message (see
// Entry). Defaults to a no-op logger.
func WithLogger(l Logger) Option {
	return optionFunc(func(cfg *config) { cfg.logger = l })
}

// WithLogifaceLogger adapts a logiface root logger into this package's
// Logger interface; see logiface_adapter.go.
func WithLogifaceLogger[E logiface.Event](l *logiface.Logger[E]) Option {
	return optionFunc(func(cfg *config) { cfg.logger = NewLogifaceAdapter(l) })
}

// WithMetrics attaches a Metrics sink that records per-task execution
// latency and dispatch throughput (RunQueue) and queue depths
// (Queue.Iterate).
func WithMetrics(m *Metrics) Option {
	return optionFunc(func(cfg *config) { cfg.metrics = m })
}

// WithResolverWorkers sets the number of worker goroutines backing a
// Resolver (default 1, matching the source library's single-worker
// adns_resolver).
func WithResolverWorkers(n uint) Option {
	return optionFunc(func(cfg *config) { cfg.resolverWorkers = n })
}

func resolveOptions(opts []Option) *config {
	cfg := &config{
		logger:          noopLogger{},
		resolverWorkers: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(cfg)
	}
	return cfg
}
