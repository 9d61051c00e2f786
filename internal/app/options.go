package service

import (
	"github.com/okian/gazeset/internal/adapters/imagestore"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/interval"
	"github.com/okian/gazeset/internal/domain/split"
	"github.com/okian/gazeset/pkg/logger"
)

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLayout sets the input, work and output directories.
func WithLayout(l Layout) Option {
	return func(s *Service) {
		s.layout = l
	}
}

// WithReader sets the study export reader.
func WithReader(r SessionReader) Option {
	return func(s *Service) {
		if r != nil {
			s.reader = r
		}
	}
}

// WithVideo sets the ffmpeg wrapper used by segmentation.
func WithVideo(v VideoTool) Option {
	return func(s *Service) {
		if v != nil {
			s.video = v
		}
	}
}

// WithSampler sets the frame sampler.
func WithSampler(fs FrameSampler) Option {
	return func(s *Service) {
		if fs != nil {
			s.sampler = fs
		}
	}
}

// WithExtractor sets the dot interval extractor.
func WithExtractor(x *interval.Extractor) Option {
	return func(s *Service) {
		if x != nil {
			s.extractor = x
		}
	}
}

// WithDetector sets the landmark detector.
func WithDetector(d eyecrop.Detector) Option {
	return func(s *Service) {
		if d != nil {
			s.detector = d
		}
	}
}

// WithNormalizer sets the eye crop normalizer.
func WithNormalizer(n *eyecrop.Normalizer) Option {
	return func(s *Service) {
		if n != nil {
			s.normalizer = n
		}
	}
}

// WithQuotas sets the split quota list.
func WithQuotas(qs []split.Quota) Option {
	return func(s *Service) {
		if len(qs) > 0 {
			s.quotas = qs
		}
	}
}

// WithLedger sets the run ledger.
func WithLedger(l Ledger) Option {
	return func(s *Service) {
		if l != nil {
			s.ledger = l
		}
	}
}

// WithResume skips stages the ledger records as complete.
func WithResume(resume bool) Option {
	return func(s *Service) {
		s.resume = resume
	}
}

// WithJPEGQuality sets the quality of written crops.
func WithJPEGQuality(q int) Option {
	return func(s *Service) {
		s.storeOpts = append(s.storeOpts, imagestore.WithQuality(q))
	}
}

// WithKeepFullFrame also writes the full frame next to each crop pair.
func WithKeepFullFrame(keep bool) Option {
	return func(s *Service) {
		s.keepFull = keep
	}
}

// WithPlot enables the label scatter plot in the report stage.
func WithPlot(plot bool) Option {
	return func(s *Service) {
		s.plot = plot
	}
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Service) {
		if id != "" {
			s.runID = id
		}
	}
}
