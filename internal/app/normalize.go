package service

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/okian/gazeset/internal/adapters/imagestore"
	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/internal/domain/split"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// Normalize crops both eyes out of every retained frame, assigns each
// participant its split and assembles info.json.
//
// Splits are handed out in participant order. A participant that cannot be
// normalized still consumes its slot so that tags stay stable across runs.
func (s *Service) Normalize(ctx context.Context) error {
	if s.detector == nil {
		return ErrNoDetector
	}
	entries, err := s.participants(ctx)
	if err != nil {
		return err
	}

	assigner := split.NewAssigner(s.quotas)
	s.logger.Info(ctx, "assigning splits",
		logger.String("splits", split.Format(s.quotas)),
		logger.Int("participants", len(entries)),
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		pid := e.ParticipantID
		tag, err := assigner.Next()
		if err != nil {
			return fmt.Errorf("participant %s: %w", pid, err)
		}
		if !exists(s.layout.ParticipantMeta(pid)) {
			s.logger.Warn(ctx, "participant not sampled, skipping", logger.Participant(pid))
			s.recordParticipant(StageNormalize, metrics.OutcomeSkipped)
			continue
		}

		ran, err := s.step(ctx, StageNormalize, pid,
			func() error { return s.cleanNormalize(pid) },
			func() error { return s.normalizeOne(ctx, pid, tag) },
		)
		if err == nil && !ran {
			err = s.retag(pid, tag)
		}
		if err := s.settle(ctx, pid, err); err != nil {
			return err
		}
	}

	var ds model.Dataset
	for _, e := range entries {
		path := s.layout.ExampleMeta(e.ParticipantID)
		if !exists(path) {
			continue
		}
		var pe model.ParticipantExamples
		if err := results.ReadJSON(path, &pe); err != nil {
			return err
		}
		ds.Participants = append(ds.Participants, pe)
	}
	if err := results.WriteJSON(s.layout.Info(), ds); err != nil {
		return err
	}
	s.logger.Info(ctx, "dataset assembled",
		logger.Int("participants", len(ds.Participants)),
		logger.Int("examples", ds.Len()),
		logger.Int("split_slots_left", assigner.Remaining()),
	)
	return nil
}

// cleanNormalize removes every crop the participant's frames could have
// produced, plus its example metadata.
func (s *Service) cleanNormalize(pid string) error {
	var pm model.ParticipantMeta
	if err := results.ReadJSON(s.layout.ParticipantMeta(pid), &pm); err != nil {
		return err
	}
	var sm model.SessionMeta
	if err := results.ReadJSON(s.layout.SessionMeta(pid), &sm); err != nil {
		return err
	}
	for i, n := range pm.FrameCounts {
		if i >= len(sm.Intervals) {
			break
		}
		for f := range n {
			for _, side := range []string{SideRight, SideLeft, SideFull} {
				if err := removeIfExists(s.store.Path(CropName(pid, sm.Intervals[i].Index, f, side))); err != nil {
					return err
				}
			}
		}
	}
	return removeIfExists(s.layout.ExampleMeta(pid))
}

func (s *Service) normalizeOne(ctx context.Context, pid string, tag model.Split) error {
	log := s.logger.With(logger.Participant(pid), logger.String("split", string(tag)))

	var pm model.ParticipantMeta
	if err := results.ReadJSON(s.layout.ParticipantMeta(pid), &pm); err != nil {
		return err
	}
	var sm model.SessionMeta
	if err := results.ReadJSON(s.layout.SessionMeta(pid), &sm); err != nil {
		return err
	}
	if len(pm.FrameCounts) != len(sm.Intervals) {
		return fmt.Errorf("%d frame counts for %d dots: %w", len(pm.FrameCounts), len(sm.Intervals), ErrMissingInput)
	}

	pe := model.ParticipantExamples{
		ParticipantID: pid,
		Split:         tag,
		Viewport:      pm.Viewport,
		Examples:      []model.Example{},
	}
	skip := func(frame model.Frame, reason string, err error) {
		log.Warn(ctx, "frame skipped",
			logger.Int("dot", frame.Dot),
			logger.Int("frame", frame.Index),
			logger.String("reason", reason),
			logger.Error(err),
		)
		if pe.Skipped == nil {
			pe.Skipped = map[string]int{}
		}
		pe.Skipped[reason]++
		s.recordSkip(reason)
	}

	for i, iv := range sm.Intervals {
		for f := range pm.FrameCounts[i] {
			if err := ctx.Err(); err != nil {
				return err
			}
			frame := model.Frame{ParticipantID: pid, Dot: iv.Index, Index: f, Path: s.layout.Frame(pid, iv.Index, f)}
			img, err := imagestore.Load(frame.Path)
			if err != nil {
				skip(frame, metrics.ReasonDecode, err)
				continue
			}

			res, err := s.normalizer.Process(ctx, s.detector, frame, img)
			switch {
			case errors.Is(err, eyecrop.ErrNoFace):
				skip(frame, metrics.ReasonNoFace, err)
				continue
			case errors.Is(err, eyecrop.ErrCropSize):
				skip(frame, metrics.ReasonCropSize, err)
				continue
			case err != nil:
				return fmt.Errorf("dot %d frame %d: %w", iv.Index, f, err)
			}

			ex, err := s.writeCrops(frame, img, res)
			if err != nil {
				return err
			}
			ex.Label = [2]float64{iv.Target.X, iv.Target.Y}
			ex.Split = tag
			pe.Examples = append(pe.Examples, ex)
		}
	}

	if err := results.WriteJSON(s.layout.ExampleMeta(pid), pe); err != nil {
		return err
	}
	log.Info(ctx, "participant normalized", logger.Int("examples", len(pe.Examples)), logger.Any("skipped", pe.Skipped))
	return nil
}

func (s *Service) writeCrops(frame model.Frame, img image.Image, res eyecrop.Result) (model.Example, error) {
	ex := model.Example{
		Dot:            frame.Dot,
		Frame:          frame.Index,
		FileNameRight:  CropName(frame.ParticipantID, frame.Dot, frame.Index, SideRight),
		FileNameLeft:   CropName(frame.ParticipantID, frame.Dot, frame.Index, SideLeft),
		RightLandmarks: res.Right.Landmarks,
		LeftLandmarks:  res.Left.Landmarks,
	}
	metrics.ObserveEyeSpan("x", res.Right.SpanX)
	metrics.ObserveEyeSpan("y", res.Right.SpanY)
	metrics.ObserveEyeSpan("x", res.Left.SpanX)
	metrics.ObserveEyeSpan("y", res.Left.SpanY)

	if err := s.store.Write(ex.FileNameRight, res.Right.Image); err != nil {
		return ex, err
	}
	if err := s.store.Write(ex.FileNameLeft, res.Left.Image); err != nil {
		return ex, err
	}
	if s.keepFull {
		ex.FileNameFull = CropName(frame.ParticipantID, frame.Dot, frame.Index, SideFull)
		if err := s.store.Write(ex.FileNameFull, img); err != nil {
			return ex, err
		}
	}
	return ex, nil
}

// retag moves an already normalized participant to tag when the quota list
// changed between runs.
func (s *Service) retag(pid string, tag model.Split) error {
	path := s.layout.ExampleMeta(pid)
	var pe model.ParticipantExamples
	if err := results.ReadJSON(path, &pe); err != nil {
		return fmt.Errorf("%w: %w", ErrParticipant, err)
	}
	if pe.Split == tag {
		return nil
	}
	pe.Split = tag
	for i := range pe.Examples {
		pe.Examples[i].Split = tag
	}
	if err := results.WriteJSON(path, pe); err != nil {
		return fmt.Errorf("%w: %w", ErrParticipant, err)
	}
	return nil
}
