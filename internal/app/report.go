package service

import (
	"context"
	"fmt"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/internal/report"
	"github.com/okian/gazeset/pkg/logger"
)

// Report writes report.json for the rescaled dataset and, when enabled, the
// label scatter plot.
func (s *Service) Report(ctx context.Context) (report.Report, error) {
	if !exists(s.layout.NewInfo()) {
		return report.Report{}, fmt.Errorf("%s: %w", s.layout.NewInfo(), ErrMissingInput)
	}
	var ds model.Dataset
	if err := results.ReadJSON(s.layout.NewInfo(), &ds); err != nil {
		return report.Report{}, err
	}

	skipped := map[string]int{}
	for _, p := range ds.Participants {
		for reason, n := range p.Skipped {
			skipped[reason] += n
		}
	}
	r := report.Build(s.runID, &ds, skipped)
	if err := results.WriteJSON(s.layout.Report(), r); err != nil {
		return r, err
	}
	if s.plot {
		if err := report.Plot(&ds, s.layout.Plot()); err != nil {
			return r, err
		}
	}
	s.logger.Info(ctx, "report written",
		logger.String("path", s.layout.Report()),
		logger.Int("examples", r.Examples),
		logger.Int("dropped", r.Dropped),
	)
	return r, nil
}
