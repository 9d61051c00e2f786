package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// Sample decodes every subclip and keeps its trailing frame window, then
// writes the participant index.
func (s *Service) Sample(ctx context.Context) error {
	entries, err := s.participants(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		pid := e.ParticipantID
		if !exists(s.layout.SessionMeta(pid)) {
			s.logger.Warn(ctx, "participant not segmented, skipping", logger.Participant(pid))
			s.recordParticipant(StageSample, metrics.OutcomeSkipped)
			continue
		}
		_, err := s.step(ctx, StageSample, pid,
			func() error { return s.cleanSample(pid) },
			func() error { return s.sampleOne(ctx, e) },
		)
		if err := s.settle(ctx, pid, err); err != nil {
			return err
		}
	}

	index := make([]model.ParticipantMeta, 0, len(entries))
	for _, e := range entries {
		var pm model.ParticipantMeta
		if !exists(s.layout.ParticipantMeta(e.ParticipantID)) {
			continue
		}
		if err := results.ReadJSON(s.layout.ParticipantMeta(e.ParticipantID), &pm); err != nil {
			return err
		}
		index = append(index, pm)
	}
	return results.WriteJSON(s.layout.ParticipantIndex(), index)
}

// cleanSample removes frames and metadata a previous attempt left behind.
func (s *Service) cleanSample(pid string) error {
	if err := removeIfExists(s.layout.ParticipantMeta(pid)); err != nil {
		return err
	}
	entries, err := os.ReadDir(s.layout.DotsDir(pid))
	if err != nil {
		return err
	}
	for _, de := range entries {
		if strings.HasSuffix(de.Name(), ".jpg") && strings.HasPrefix(de.Name(), pid+"_") {
			if err := os.Remove(filepath.Join(s.layout.DotsDir(pid), de.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) sampleOne(ctx context.Context, e results.Entry) error {
	pid := e.ParticipantID
	log := s.logger.With(logger.Participant(pid))

	var meta model.SessionMeta
	if err := results.ReadJSON(s.layout.SessionMeta(pid), &meta); err != nil {
		return err
	}
	// Sampling consumes the subclips. If an earlier attempt got part way,
	// cut them again before decoding.
	if !s.clipsPresent(pid, meta) {
		log.Info(ctx, "subclips missing, segmenting again")
		if err := s.cleanSegment(pid); err != nil {
			return err
		}
		if err := s.segmentOne(ctx, e); err != nil {
			return fmt.Errorf("resegment: %w", err)
		}
		if err := results.ReadJSON(s.layout.SessionMeta(pid), &meta); err != nil {
			return err
		}
	}

	pm := model.ParticipantMeta{
		ParticipantID: pid,
		ResultID:      meta.ResultID,
		DotCount:      len(meta.Intervals),
		FrameCounts:   make([]int, len(meta.Intervals)),
		Viewport:      meta.Viewport,
	}
	for i, iv := range meta.Intervals {
		res, err := s.sampler.Sample(ctx, s.layout.Clip(pid, iv.Index), s.layout.DotsDir(pid), FramePrefix(pid, iv.Index))
		if err != nil {
			return fmt.Errorf("dot %d: %w", iv.Index, err)
		}
		if res.Retained == 0 {
			log.Warn(ctx, "dot kept no frames", logger.Int("dot", iv.Index), logger.Int("decoded", res.Decoded))
		}
		pm.FrameCounts[i] = res.Retained
	}

	if err := results.WriteJSON(s.layout.ParticipantMeta(pid), pm); err != nil {
		return err
	}
	log.Info(ctx, "participant sampled", logger.Int("dots", pm.DotCount), logger.Any("frames", pm.FrameCounts))
	return nil
}

func (s *Service) clipsPresent(pid string, meta model.SessionMeta) bool {
	for _, iv := range meta.Intervals {
		if !exists(s.layout.Clip(pid, iv.Index)) {
			return false
		}
	}
	return true
}
