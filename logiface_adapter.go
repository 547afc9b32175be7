package ioq

import "github.com/joeycumines/logiface"

// LogifaceAdapter binds a logiface root logger to this package's Logger
// interface, so a caller that already has a logiface-based logging
// setup can pass it straight through to WithLogifaceLogger instead of
// writing a one-off shim per event type.
type LogifaceAdapter[E logiface.Event] struct {
	root *logiface.Logger[E]
}

// NewLogifaceAdapter wraps an existing *logiface.Logger[E] as a Logger.
func NewLogifaceAdapter[E logiface.Event](l *logiface.Logger[E]) *LogifaceAdapter[E] {
	return &LogifaceAdapter[E]{root: l}
}

// Enabled reports whether level would be logged by the wrapped logger.
func (a *LogifaceAdapter[E]) Enabled(level Level) bool {
	return a.root != nil && a.root.Level() >= toLogifaceLevel(level)
}

// Log forwards entry onto the wrapped logiface builder chain.
func (a *LogifaceAdapter[E]) Log(entry Entry) {
	if a.root == nil {
		return
	}
	b := a.root.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		// level disabled, or the builder pool declined to allocate one
		return
	}
	if entry.Category != "" {
		b = b.Str("category", entry.Category)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

func toLogifaceLevel(l Level) logiface.Level {
	switch l {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelInformational
	}
}
