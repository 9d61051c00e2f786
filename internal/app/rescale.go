package service

import (
	"context"
	"fmt"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/internal/domain/rescale"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// Rescale reads info.json, multiplies every label's y by its participant's
// viewport height over width and writes new_info.json. Participants without
// a usable viewport are left out.
func (s *Service) Rescale(ctx context.Context) error {
	if !exists(s.layout.Info()) {
		return fmt.Errorf("%s: %w", s.layout.Info(), ErrMissingInput)
	}
	var ds model.Dataset
	if err := results.ReadJSON(s.layout.Info(), &ds); err != nil {
		return err
	}

	out := model.Dataset{Participants: make([]model.ParticipantExamples, 0, len(ds.Participants))}
	for i := range ds.Participants {
		p := &ds.Participants[i]
		ratio, err := rescale.Participant(p)
		if err != nil {
			s.logger.Error(ctx, "participant aborted", logger.Participant(p.ParticipantID), logger.Error(err))
			s.recordParticipant(StageRescale, metrics.OutcomeFailed)
			continue
		}
		s.logger.Debug(ctx, "labels rescaled", logger.Participant(p.ParticipantID), logger.Float64("ratio", ratio))
		s.recordParticipant(StageRescale, metrics.OutcomeOK)
		out.Participants = append(out.Participants, *p)
	}
	return results.WriteJSON(s.layout.NewInfo(), out)
}
