package config_test

import (
	"context"
	"errors"
	"testing"

	"github.com/okian/gazeset/internal/config"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New(context.Background())

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.CropSize, convey.ShouldEqual, 128)
			convey.So(cfg.TrailingFrames, convey.ShouldEqual, 10)
			convey.So(cfg.TailMargin, convey.ShouldEqual, 5)
			convey.So(cfg.Decoder, convey.ShouldEqual, config.DecoderFFmpeg)
			convey.So(cfg.Resume, convey.ShouldBeTrue)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})

		convey.Convey("Then no detector command should be assumed", func() {
			convey.So(cfg.DetectorCmd, convey.ShouldBeEmpty)
			err := cfg.RequireDetector()
			convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
		})

		convey.Convey("Then a configured detector command should satisfy normalize", func() {
			cfg.DetectorCmd = []string{"landmarks-sidecar"}
			convey.So(cfg.RequireDetector(), convey.ShouldBeNil)
		})

		convey.Convey("Then the default quotas should parse", func() {
			qs, err := cfg.Quotas()
			convey.So(err, convey.ShouldBeNil)
			convey.So(len(qs), convey.ShouldEqual, 3)
			convey.So(qs[0].Tag, convey.ShouldEqual, model.SplitTrain)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with one bad field each", t, func() {
		cases := []struct {
			name   string
			mutate func(c *config.Config)
		}{
			{"empty input", func(c *config.Config) { c.InputDir = "" }},
			{"empty work", func(c *config.Config) { c.WorkDir = "" }},
			{"empty output", func(c *config.Config) { c.OutputDir = "" }},
			{"zero crop", func(c *config.Config) { c.CropSize = 0 }},
			{"zero trailing", func(c *config.Config) { c.TrailingFrames = 0 }},
			{"margin too large", func(c *config.Config) { c.TailMargin = 11 }},
			{"jpeg quality", func(c *config.Config) { c.JPEGQuality = 101 }},
			{"decoder", func(c *config.Config) { c.Decoder = "vlc" }},
			{"log format", func(c *config.Config) { c.LogFormat = "xml" }},
			{"splits", func(c *config.Config) { c.Splits = "3:holdout" }},
		}

		for _, tc := range cases {
			cfg := config.New(context.Background())
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" should be rejected", func() {
				err := cfg.Validate()
				convey.So(errors.Is(err, config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
