package service

import (
	"context"
	"fmt"
	"os"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/adapters/tfrecord"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

// PackageCounts is how many records went to each split.
type PackageCounts struct {
	Train   int `json:"train"`
	Valid   int `json:"valid"`
	Test    int `json:"test"`
	Dropped int `json:"dropped"`
}

// Package writes every example of new_info.json to the TFRecord file of its
// split. Examples with an unknown split are dropped and counted. Files are
// replaced only when every record was written.
func (s *Service) Package(ctx context.Context) (counts PackageCounts, err error) {
	if !exists(s.layout.NewInfo()) {
		return counts, fmt.Errorf("%s: %w", s.layout.NewInfo(), ErrMissingInput)
	}
	var ds model.Dataset
	if err := results.ReadJSON(s.layout.NewInfo(), &ds); err != nil {
		return counts, err
	}
	if err := os.MkdirAll(s.layout.Output, 0o755); err != nil {
		return counts, fmt.Errorf("mkdir output: %w", err)
	}

	writers := make(map[model.Split]*tfrecord.Writer, len(model.Splits))
	defer func() {
		for sp, w := range writers {
			if cerr := w.Close(); cerr != nil && err == nil {
				err = cerr
			}
			if err != nil {
				_ = os.Remove(tempRecords(s.layout, sp))
			}
		}
	}()
	for _, sp := range model.Splits {
		w, err := tfrecord.Create(tempRecords(s.layout, sp))
		if err != nil {
			return counts, err
		}
		writers[sp] = w
	}

	for _, p := range ds.Participants {
		for _, ex := range p.Examples {
			if err := ctx.Err(); err != nil {
				return counts, err
			}
			w, ok := writers[ex.Split]
			if !ok {
				s.logger.Warn(ctx, "unknown split, example dropped",
					logger.Participant(p.ParticipantID),
					logger.String("split", string(ex.Split)),
					logger.Int("dot", ex.Dot),
					logger.Int("frame", ex.Frame),
				)
				counts.Dropped++
				metrics.RecordDropped()
				continue
			}
			left, err := s.store.ReadBytes(ex.FileNameLeft)
			if err != nil {
				return counts, err
			}
			right, err := s.store.ReadBytes(ex.FileNameRight)
			if err != nil {
				return counts, err
			}
			if err := w.Write(tfrecord.GazeExample(ex, left, right).Marshal()); err != nil {
				return counts, fmt.Errorf("%s record: %w", ex.Split, err)
			}
			metrics.RecordExample(string(ex.Split))
		}
	}

	counts.Train = writers[model.SplitTrain].Count()
	counts.Valid = writers[model.SplitValid].Count()
	counts.Test = writers[model.SplitTest].Count()
	for _, sp := range model.Splits {
		if err := writers[sp].Close(); err != nil {
			return counts, err
		}
		if err := os.Rename(tempRecords(s.layout, sp), s.layout.Records(sp)); err != nil {
			return counts, fmt.Errorf("rename %s records: %w", sp, err)
		}
	}

	s.mu.Lock()
	s.stats.Packaged = counts
	s.mu.Unlock()
	s.logger.Info(ctx, "dataset packaged",
		logger.Int("train", counts.Train),
		logger.Int("valid", counts.Valid),
		logger.Int("test", counts.Test),
		logger.Int("dropped", counts.Dropped),
	)
	return counts, nil
}

func tempRecords(l Layout, sp model.Split) string {
	return l.Records(sp) + ".tmp"
}
