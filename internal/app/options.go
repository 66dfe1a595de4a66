package service

import (
	"time"

	"github.com/okian/dialogkpi/internal/adapters/repository"
	"github.com/okian/dialogkpi/internal/domain/dedupe"
	"github.com/okian/dialogkpi/internal/domain/model"
	"github.com/okian/dialogkpi/internal/domain/sampling"
	"github.com/okian/dialogkpi/internal/domain/translate"
	"github.com/okian/dialogkpi/pkg/logger"
)

// Option applies a configuration option to the Recorder.
type Option func(*Recorder)

// WithStore sets the durable slot. Defaults to an in-memory store.
func WithStore(s repository.Store) Option {
	return func(r *Recorder) {
		if s != nil {
			r.store = s
		}
	}
}

// WithPublisher sets where previous records are handed off for upload.
func WithPublisher(p Publisher) Option {
	return func(r *Recorder) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithContextSource sets where the session context is fetched from.
func WithContextSource(src ContextSource) Option {
	return func(r *Recorder) {
		if src != nil {
			r.source = src
		}
	}
}

// WithTranslator replaces the default name translator.
func WithTranslator(t *translate.Translator) Option {
	return func(r *Recorder) {
		if t != nil {
			r.translator = t
		}
	}
}

// WithCoin sets the sampling coin.
func WithCoin(c sampling.Coin) Option {
	return func(r *Recorder) {
		if c != nil {
			r.coin = c
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) {
		if now != nil {
			r.clock = now
		}
	}
}

// WithEnvironment sets the page language and screen size.
func WithEnvironment(env model.Environment) Option {
	return func(r *Recorder) {
		r.env = env
	}
}

// WithContinuation marks the page load as a redirect return.
func WithContinuation(continuation bool) Option {
	return func(r *Recorder) {
		r.continuation = continuation
	}
}

// WithLogger sets a custom logger for the recorder.
func WithLogger(l logger.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// IntakeOption applies a configuration option to the Intake.
type IntakeOption func(*Intake)

// WithDeduper replaces the default bounded record-ID deduper.
func WithDeduper(d dedupe.Deduper) IntakeOption {
	return func(i *Intake) {
		if d != nil {
			i.deduper = d
		}
	}
}

// WithDedupeSize bounds the default deduper.
func WithDedupeSize(size int) IntakeOption {
	return func(i *Intake) {
		if size > 0 {
			i.dedupeSize = size
		}
	}
}

// WithSampleRate sets the rate served to dialogs.
func WithSampleRate(rate float64) IntakeOption {
	return func(i *Intake) {
		if rate >= 0 && rate <= 1 {
			i.sampleRate = rate
		}
	}
}

// WithIntakeClock replaces time.Now for the served server time.
func WithIntakeClock(now func() time.Time) IntakeOption {
	return func(i *Intake) {
		if now != nil {
			i.clock = now
		}
	}
}

// WithIntakeLogger sets a custom logger for the intake.
func WithIntakeLogger(l logger.Logger) IntakeOption {
	return func(i *Intake) {
		if l != nil {
			i.logger = l
		}
	}
}
