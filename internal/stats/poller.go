package stats

import (
	"context"
	"time"

	"github.com/netpanel/linkpanel/internal/logging"
	"github.com/netpanel/linkpanel/pkg/types"
)

// Source fetches the current stats report for an interface; satisfied by the
// API client.
type Source interface {
	Stats(ctx context.Context, iface string) (*types.StatsReport, error)
}

// Sink receives each fetched report together with its aggregated summary.
type Sink func(report *types.StatsReport, summary Report)

// Poller fetches interface counters and link state on a fixed interval and
// feeds the aggregator. Fetch failures are logged and skipped; the loop only
// stops with the context.
type Poller struct {
	source   Source
	iface    string
	interval time.Duration
	sink     Sink
	logger   *logging.Logger
}

func NewPoller(source Source, iface string, interval time.Duration, sink Sink) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		source:   source,
		iface:    iface,
		interval: interval,
		sink:     sink,
		logger:   logging.NewLogger("stats-poller"),
	}
}

func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	report, err := p.source.Stats(fetchCtx, p.iface)
	if err != nil {
		if ctx.Err() == nil {
			p.logger.Warn("stats fetch failed",
				logging.Field{Key: "iface", Value: p.iface},
				logging.Field{Key: "error", Value: err})
		}
		return
	}
	if p.sink != nil {
		p.sink(report, Summarize(report.Link, report.Delta))
	}
}
