package cli

import (
	"github.com/rs/zerolog"

	"github.com/forgecell/forgeorch/internal/eventbus"
)

// logSubscriber renders build events as structured zerolog lines, the
// default (non-JSON) progress reporting path of §6.
type logSubscriber struct {
	logger zerolog.Logger
	opts   Options
}

func newLogSubscriber(logger zerolog.Logger, opts Options) *logSubscriber {
	return &logSubscriber{logger: logger, opts: opts}
}

func (s *logSubscriber) ID() string { return "cli-log-reporter" }

func (s *logSubscriber) OnEvent(e eventbus.Event) {
	ev := s.logger.Info().Str("target", e.Target).Str("kind", string(e.Kind))
	if e.Message != "" {
		ev = ev.Str("message", e.Message)
	}
	ev.Msg(e.HumanSummary(0))
}
