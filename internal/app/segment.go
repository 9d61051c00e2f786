package service

import (
	"context"
	"fmt"
	"os"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/adapters/video"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// Segment concatenates and repairs each participant's recording and cuts one
// subclip per dot interval.
func (s *Service) Segment(ctx context.Context) error {
	entries, err := s.participants(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.step(ctx, StageSegment, e.ParticipantID,
			func() error { return s.cleanSegment(e.ParticipantID) },
			func() error { return s.segmentOne(ctx, e) },
		)
		if err := s.settle(ctx, e.ParticipantID, err); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) cleanSegment(pid string) error {
	if err := os.RemoveAll(s.layout.DotsDir(pid)); err != nil {
		return err
	}
	if err := removeIfExists(s.layout.RawVideo(pid)); err != nil {
		return err
	}
	return removeIfExists(s.layout.FullVideo(pid))
}

func (s *Service) segmentOne(ctx context.Context, e results.Entry) error {
	pid := e.ParticipantID
	log := s.logger.With(logger.Participant(pid), logger.Int64("result_id", e.ResultID))

	sess, err := s.reader.Session(ctx, e)
	if err != nil {
		return err
	}
	// Resolve intervals before touching any video.
	intervals, err := s.extractor.Extract(sess.Events)
	if err != nil {
		return fmt.Errorf("dot intervals: %w", err)
	}
	sess.Chunks, err = video.ChunkPaths(e.ChunkDir(), pid)
	if err != nil {
		return err
	}
	vp, ok := sess.Viewport()
	if !ok {
		log.Warn(ctx, "event log has no viewport metadata; labels cannot be rescaled")
	}

	raw, full := s.layout.RawVideo(pid), s.layout.FullVideo(pid)
	if err := video.Concat(ctx, sess.Chunks, raw); err != nil {
		return fmt.Errorf("concat: %w", err)
	}
	if err := s.video.Repair(ctx, raw, full); err != nil {
		return err
	}
	if err := os.Remove(raw); err != nil {
		return fmt.Errorf("remove raw video: %w", err)
	}

	meta := model.SessionMeta{
		ParticipantID: pid,
		ResultID:      e.ResultID,
		Viewport:      vp,
		Intervals:     intervals,
	}
	if d, err := s.video.Probe(ctx, full); err != nil {
		log.Warn(ctx, "could not probe video duration", logger.Error(err))
	} else {
		meta.DurationMS = float64(d.Milliseconds())
	}

	if err := os.MkdirAll(s.layout.DotsDir(pid), 0o755); err != nil {
		return fmt.Errorf("mkdir dots: %w", err)
	}
	for _, iv := range intervals {
		if meta.DurationMS > 0 && iv.EndMS > meta.DurationMS {
			log.Warn(ctx, "dot interval ends after the video",
				logger.Int("dot", iv.Index),
				logger.Float64("end_ms", iv.EndMS),
				logger.Float64("duration_ms", meta.DurationMS),
			)
		}
		if err := s.video.Trim(ctx, full, s.layout.Clip(pid, iv.Index), iv.StartMS, iv.EndMS); err != nil {
			return fmt.Errorf("dot %d: %w", iv.Index, err)
		}
	}
	metrics.RecordDotIntervals(len(intervals))

	if err := results.WriteJSON(s.layout.SessionMeta(pid), meta); err != nil {
		return err
	}
	log.Info(ctx, "participant segmented",
		logger.Int("chunks", len(sess.Chunks)),
		logger.Int("dots", len(intervals)),
	)
	return nil
}
