// Package service runs the dataset pipeline stages over every participant of
// a study export.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gazeset/internal/adapters/imagestore"
	"github.com/okian/gazeset/internal/adapters/ledger"
	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/adapters/video"
	"github.com/okian/gazeset/internal/domain/dedupe"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/interval"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/internal/domain/split"
	"github.com/okian/gazeset/internal/domain/window"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// Stage names, in pipeline order.
const (
	StageSegment   = "segment"
	StageSample    = "sample"
	StageNormalize = "normalize"
	StageRescale   = "rescale"
	StagePackage   = "package"
	StageReport    = "report"
)

// Stages lists every stage in the order Run executes them.
var Stages = []string{StageSegment, StageSample, StageNormalize, StageRescale, StagePackage, StageReport}

// SessionReader reads participants from a study export.
type SessionReader interface {
	Entries(ctx context.Context) ([]results.Entry, error)
	Session(ctx context.Context, e results.Entry) (*model.Session, error)
}

// VideoTool is the ffmpeg surface used by segmentation.
type VideoTool interface {
	Repair(ctx context.Context, src, dst string) error
	Trim(ctx context.Context, src, dst string, startMS, endMS float64) error
	Probe(ctx context.Context, path string) (time.Duration, error)
}

// FrameSampler decodes a subclip and keeps the trailing window.
type FrameSampler interface {
	Sample(ctx context.Context, clip, dir, prefix string) (video.Sample, error)
}

// Ledger records per participant stage completion.
type Ledger interface {
	State(ctx context.Context, participant, stage string) (ledger.Status, error)
	Start(ctx context.Context, runID, participant, stage string) error
	Done(ctx context.Context, runID, participant, stage string) error
	Fail(ctx context.Context, runID, participant, stage string, cause error) error
}

// Stats summarizes what a service has done so far.
type Stats struct {
	// Participants counts outcomes per stage.
	Participants map[string]map[string]int
	// Skipped counts rejected frames per reason.
	Skipped map[string]int

	Packaged PackageCounts
}

// Service runs pipeline stages.
type Service struct {
	mu sync.Mutex

	// Collaborators
	reader     SessionReader
	video      VideoTool
	sampler    FrameSampler
	extractor  *interval.Extractor
	detector   eyecrop.Detector
	normalizer *eyecrop.Normalizer
	ledger     Ledger
	store      *imagestore.Store

	// Configuration
	layout    Layout
	quotas    []split.Quota
	resume    bool
	keepFull  bool
	plot      bool
	runID     string
	storeOpts []imagestore.Option

	stats  Stats
	logger logger.Logger
}

// New constructs a Service. Collaborators that are not supplied fall back to
// ffmpeg from PATH, the default window and crop size, and a 2/1/1 split.
func New(opts ...Option) *Service {
	s := &Service{
		layout:     Layout{Input: "data/raw", Work: "data/work", Output: "data/dataset"},
		extractor:  interval.NewExtractor(),
		normalizer: eyecrop.NewNormalizer(),
		ledger:     nopLedger{},
		quotas: []split.Quota{
			{Count: 2, Tag: model.SplitTrain},
			{Count: 1, Tag: model.SplitValid},
			{Count: 1, Tag: model.SplitTest},
		},
		resume: true,
		runID:  uuid.NewString(),
		stats: Stats{
			Participants: map[string]map[string]int{},
			Skipped:      map[string]int{},
		},
		logger: logger.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.reader == nil {
		s.reader = results.NewReader(s.layout.Input)
	}
	if s.video == nil {
		s.video = video.NewFFmpeg(video.WithLogger(s.logger))
	}
	if s.sampler == nil {
		s.sampler = video.NewSampler(video.NewFFmpeg(video.WithLogger(s.logger)), window.New())
	}
	s.store = imagestore.New(s.layout.Processed(), s.storeOpts...)
	return s
}

// RunID returns the id stamped on ledger rows and pushed metrics.
func (s *Service) RunID() string { return s.runID }

// Layout returns the directory layout.
func (s *Service) Layout() Layout { return s.layout }

// Stats returns a copy of the counters collected so far.
func (s *Service) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		Participants: make(map[string]map[string]int, len(s.stats.Participants)),
		Skipped:      make(map[string]int, len(s.stats.Skipped)),
		Packaged:     s.stats.Packaged,
	}
	for stage, m := range s.stats.Participants {
		out.Participants[stage] = make(map[string]int, len(m))
		for k, v := range m {
			out.Participants[stage][k] = v
		}
	}
	for k, v := range s.stats.Skipped {
		out.Skipped[k] = v
	}
	return out
}

// Run executes the named stages in the given order. A failure that belongs
// to one participant is logged and the next participant continues; anything
// else stops the run.
func (s *Service) Run(ctx context.Context, stages ...string) error {
	for _, name := range stages {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		s.logger.Info(ctx, "stage started", logger.String("stage", name), logger.String("run_id", s.runID))

		var err error
		switch name {
		case StageSegment:
			err = s.Segment(ctx)
		case StageSample:
			err = s.Sample(ctx)
		case StageNormalize:
			err = s.Normalize(ctx)
		case StageRescale:
			err = s.Rescale(ctx)
		case StagePackage:
			_, err = s.Package(ctx)
		case StageReport:
			_, err = s.Report(ctx)
		default:
			err = fmt.Errorf("%q: %w", name, ErrUnknownStage)
		}
		if err != nil {
			return fmt.Errorf("stage %s: %w", name, err)
		}
		s.logger.Info(ctx, "stage finished", logger.String("stage", name), logger.Duration("took", time.Since(start)))
	}
	return nil
}

// participants lists the export's results in metadata order, keeping only
// the first result of every participant id. Ids that are not a single safe
// path element are dropped.
func (s *Service) participants(ctx context.Context) ([]results.Entry, error) {
	entries, err := s.reader.Entries(ctx)
	if err != nil {
		return nil, err
	}
	seen := dedupe.NewInMemoryDeduper(dedupe.WithCapacity(len(entries)))
	out := make([]results.Entry, 0, len(entries))
	for _, e := range entries {
		if err := results.CheckParticipantID(e.ParticipantID); err != nil {
			s.logger.Warn(ctx, "unusable participant id, result ignored",
				logger.Int64("result_id", e.ResultID),
				logger.Error(err),
			)
			continue
		}
		if seen.SeenAndRecord(ctx, e.ParticipantID) {
			s.logger.Warn(ctx, "duplicate participant id, result ignored",
				logger.Participant(e.ParticipantID),
				logger.Int64("result_id", e.ResultID),
			)
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// step runs one participant stage under the ledger. It reports whether do
// ran; with resume enabled a stage already marked done is skipped.
func (s *Service) step(ctx context.Context, stage, pid string, cleanup, do func() error) (bool, error) {
	if s.resume {
		st, err := s.ledger.State(ctx, pid, stage)
		if err != nil {
			return false, err
		}
		if st == ledger.StatusDone {
			s.logger.Debug(ctx, "stage already complete", logger.Participant(pid), logger.String("stage", stage))
			s.recordParticipant(stage, metrics.OutcomeSkipped)
			return false, nil
		}
	}
	if err := cleanup(); err != nil {
		return false, fmt.Errorf("clean %s output of %s: %w", stage, pid, err)
	}
	if err := s.ledger.Start(ctx, s.runID, pid, stage); err != nil {
		return false, err
	}

	start := time.Now()
	err := do()
	metrics.ObserveStage(stage, time.Since(start))
	if err != nil {
		s.recordParticipant(stage, metrics.OutcomeFailed)
		if lerr := s.ledger.Fail(ctx, s.runID, pid, stage, err); lerr != nil {
			return true, errors.Join(err, lerr)
		}
		return true, fmt.Errorf("%s %s: %w: %w", stage, pid, ErrParticipant, err)
	}
	s.recordParticipant(stage, metrics.OutcomeOK)
	return true, s.ledger.Done(ctx, s.runID, pid, stage)
}

// settle decides whether a step error stops the stage.
func (s *Service) settle(ctx context.Context, pid string, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !errors.Is(err, ErrParticipant) {
		return err
	}
	s.logger.Error(ctx, "participant aborted", logger.Participant(pid), logger.Error(err))
	return nil
}

func (s *Service) recordParticipant(stage, outcome string) {
	metrics.RecordParticipant(stage, outcome)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.Participants[stage] == nil {
		s.stats.Participants[stage] = map[string]int{}
	}
	s.stats.Participants[stage][outcome]++
}

func (s *Service) recordSkip(reason string) {
	metrics.RecordFrameSkipped(reason)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.Skipped[reason]++
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// nopLedger treats every stage as never run.
type nopLedger struct{}

func (nopLedger) State(context.Context, string, string) (ledger.Status, error) {
	return ledger.StatusNone, nil
}
func (nopLedger) Start(context.Context, string, string, string) error       { return nil }
func (nopLedger) Done(context.Context, string, string, string) error        { return nil }
func (nopLedger) Fail(context.Context, string, string, string, error) error { return nil }
