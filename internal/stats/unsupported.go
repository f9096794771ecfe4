package stats

import (
	"context"
	"log/slog"
	"sync"
)

type unsupportedProvider struct {
	logger *slog.Logger
	goos   string
	once   sync.Once
}

func newUnsupported(logger *slog.Logger, goos string) *unsupportedProvider {
	return &unsupportedProvider{logger: logger, goos: goos}
}

func (p *unsupportedProvider) GetProcessStats(context.Context, int) *ProcessStats {
	p.once.Do(func() {
		p.logger.Error("process stats are not supported on this platform", "goos", p.goos)
	})
	return nil
}
