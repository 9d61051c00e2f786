// Command gazeset turns raw eye-tracking study exports into a packaged
// train/valid/test dataset of eye crops and gaze labels.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/okian/gazeset/internal/adapters/landmark"
	"github.com/okian/gazeset/internal/adapters/ledger"
	"github.com/okian/gazeset/internal/adapters/video"
	app "github.com/okian/gazeset/internal/app"
	"github.com/okian/gazeset/internal/config"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/window"
	"github.com/okian/gazeset/pkg/logger"
	"github.com/okian/gazeset/pkg/metrics"
)

const pushJob = "gazeset"

const usage = `usage: gazeset [flags] <command>

commands:
  segment    cut one subclip per dot out of each recording
  sample     keep the trailing frames of every subclip
  normalize  crop both eyes out of every frame and assign splits
  rescale    rescale labels by the viewport aspect ratio
  package    write the train, valid and test tfrecords
  report     write report.json and the label plot
  run        every command above, in order

flags:
`

var errUsage = errors.New("usage")

func main() {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:])
	stop()
	if err != nil {
		if err != errUsage && !errors.Is(err, flag.ErrHelp) { //nolint:errorlint // bare usage error only
			os.Stderr.WriteString("gazeset: " + err.Error() + "\n")
		}
		os.Exit(1)
	}
}

// stagesFor maps a command to the stages it runs.
func stagesFor(command string) ([]string, error) {
	if command == "run" {
		return app.Stages, nil
	}
	if slices.Contains(app.Stages, command) {
		return []string{command}, nil
	}
	return nil, fmt.Errorf("unknown command %q: %w", command, errUsage)
}

func run(ctx context.Context, args []string) (err error) {
	fs := flag.NewFlagSet("gazeset", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default $GAZESET_CONFIG)")
	fresh := fs.Bool("fresh", false, "forget completed stages and start over")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	command := fs.Arg(0)
	stages, err := stagesFor(command)
	if err != nil {
		fs.Usage()
		return err
	}

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx, *configPath)
	if err != nil {
		return err
	}
	if err := logger.Setup(logger.Options{Format: cfg.LogFormat, File: cfg.LogFile}); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Named("gazeset")

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	quotas, err := cfg.Quotas()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log = log.With(logger.String("run_id", runID))

	runLedger, err := ledger.Open(ctx, cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer func() { _ = runLedger.Close() }()
	if *fresh || !cfg.Resume {
		if err := runLedger.Reset(ctx); err != nil {
			return err
		}
		log.Info(ctx, "ledger cleared; every stage will run from scratch")
	}
	if err := runLedger.BeginRun(ctx, runID, command); err != nil {
		return err
	}
	defer func() {
		status := ledger.StatusDone
		if err != nil {
			status = ledger.StatusFailed
		}
		// The root context may already be cancelled; bookkeeping still runs.
		bg := context.WithoutCancel(ctx)
		if ferr := runLedger.FinishRun(bg, runID, status); ferr != nil {
			log.Warn(bg, "could not close run in ledger", logger.Error(ferr))
		}
		exportMetrics(bg, log, cfg, runID)
	}()

	ff := video.NewFFmpeg(
		video.WithFFmpegPath(cfg.FFmpegPath),
		video.WithFFprobePath(cfg.FFprobePath),
		video.WithRepairArgs(cfg.RepairArgs),
		video.WithLogger(log.Named("ffmpeg")),
	)
	var decoder video.Decoder = ff
	if strings.EqualFold(cfg.Decoder, config.DecoderOpenCV) {
		if decoder, err = video.NewOpenCVDecoder(); err != nil {
			return err
		}
	}

	opts := []app.Option{
		app.WithLogger(log),
		app.WithRunID(runID),
		app.WithLayout(app.Layout{Input: cfg.InputDir, Work: cfg.WorkDir, Output: cfg.OutputDir}),
		app.WithVideo(ff),
		app.WithSampler(video.NewSampler(decoder, window.New(
			window.WithTrailing(cfg.TrailingFrames),
			window.WithMargin(cfg.TailMargin),
		))),
		app.WithNormalizer(eyecrop.NewNormalizer(eyecrop.WithSize(cfg.CropSize))),
		app.WithQuotas(quotas),
		app.WithLedger(runLedger),
		app.WithResume(cfg.Resume && !*fresh),
		app.WithJPEGQuality(cfg.JPEGQuality),
		app.WithKeepFullFrame(cfg.KeepFullFrame),
		app.WithPlot(cfg.ReportPlot),
	}
	if slices.Contains(stages, app.StageNormalize) {
		if err := cfg.RequireDetector(); err != nil {
			return err
		}
		detector, err := landmark.Start(ctx, cfg.DetectorCmd, log.Named("detector"))
		if err != nil {
			return err
		}
		defer func() {
			if cerr := detector.Close(); cerr != nil {
				log.Warn(ctx, "landmark detector exited uncleanly", logger.Error(cerr))
			}
		}()
		opts = append(opts, app.WithDetector(detector))
	}

	svc := app.New(opts...)
	start := time.Now()
	if err := svc.Run(ctx, stages...); err != nil {
		log.Error(ctx, "run failed", logger.String("command", command), logger.Error(err))
		return err
	}

	stats := svc.Stats()
	log.Info(ctx, "run finished",
		logger.String("command", command),
		logger.Duration("took", time.Since(start)),
		logger.Any("participants", stats.Participants),
		logger.Any("frames_skipped", stats.Skipped),
		logger.Any("packaged", stats.Packaged),
	)
	counts, err := runLedger.Counts(ctx)
	if err != nil {
		log.Warn(ctx, "could not read ledger counts", logger.Error(err))
		return nil
	}
	for stage, byStatus := range counts {
		log.Info(ctx, "ledger", logger.String("stage", stage), logger.Any("statuses", byStatus))
	}
	return nil
}

// exportMetrics writes the textfile and pushes to the gateway when
// configured. Failures only warn; the dataset is already on disk.
func exportMetrics(ctx context.Context, log logger.Logger, cfg *config.Config, runID string) {
	metrics.MarkRunFinished(time.Now())
	reg := metrics.GetRegistry()

	if cfg.MetricsTextfile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.MetricsTextfile), 0o755); err != nil {
			log.Warn(ctx, "metrics textfile dir", logger.Error(err))
		} else if err := metrics.WriteTextfile(reg, cfg.MetricsTextfile); err != nil {
			log.Warn(ctx, "could not write metrics textfile", logger.String("path", cfg.MetricsTextfile), logger.Error(err))
		}
	}
	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(ctx, reg, cfg.PushgatewayURL, pushJob, runID); err != nil {
			log.Warn(ctx, "could not push metrics", logger.String("url", cfg.PushgatewayURL), logger.Error(err))
		}
	}
}
