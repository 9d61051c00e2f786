package service_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/gazeset/internal/adapters/imagestore"
	"github.com/okian/gazeset/internal/adapters/ledger"
	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/adapters/tfrecord"
	service "github.com/okian/gazeset/internal/app"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/internal/domain/split"
	"github.com/okian/gazeset/internal/report"
	"github.com/okian/gazeset/pkg/metrics"
	. "github.com/smartystreets/goconvey/convey"
)

func readRecords(t *testing.T, path string) []tfrecord.Example {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = f.Close() }()

	var out []tfrecord.Example
	r := tfrecord.NewReader(f)
	for {
		b, err := r.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatal(err)
		}
		ex, err := tfrecord.UnmarshalExample(b)
		if err != nil {
			t.Fatal(err)
		}
		out = append(out, ex)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should have sensible defaults", func() {
			So(svc, ShouldNotBeNil)
			So(svc.RunID(), ShouldNotBeEmpty)
			So(svc.Layout().Output, ShouldEqual, "data/dataset")
		})
	})

	Convey("Given a fixed run id", t, func() {
		svc := service.New(service.WithRunID("run-7"), service.WithRunID(""))

		Convey("Then it should be kept", func() {
			So(svc.RunID(), ShouldEqual, "run-7")
		})
	})
}

func TestService_Run(t *testing.T) {
	Convey("Given four participants and a detector that misses one frame", t, func() {
		f := newFixture(t, "p1", "p2", "p3", "p4")
		svc := service.New(f.options(
			service.WithDetector(fakeDetector{noFace: map[string]bool{"p3/0/0": true}}),
			service.WithPlot(true),
		)...)
		ctx := context.Background()

		Convey("When every stage runs", func() {
			err := svc.Run(ctx, service.Stages...)
			So(err, ShouldBeNil)

			Convey("Then each split should hold its participants' examples", func() {
				So(svc.Stats().Packaged, ShouldResemble, service.PackageCounts{Train: 12, Valid: 5, Test: 6})
				So(readRecords(t, f.layout.Records(model.SplitTrain)), ShouldHaveLength, 12)
				So(readRecords(t, f.layout.Records(model.SplitTest)), ShouldHaveLength, 6)
			})

			Convey("And records should carry rescaled labels and crop-local landmarks", func() {
				recs := readRecords(t, f.layout.Records(model.SplitValid))
				So(recs, ShouldHaveLength, 5)
				first := recs[0]
				So(first[tfrecord.KeyLabel].Floats[0], ShouldAlmostEqual, 0.25, 1e-6)
				So(first[tfrecord.KeyLabel].Floats[1], ShouldAlmostEqual, 0.28125, 1e-6)
				So(first[tfrecord.KeyLeftL1].Ints, ShouldResemble, []int64{34, 64})
				So(first[tfrecord.KeyEyeLeft].Bytes[0], ShouldNotBeEmpty)
				So(first[tfrecord.KeyEyeRight].Bytes[0], ShouldNotBeEmpty)
			})

			Convey("And the skipped frame should be counted", func() {
				So(svc.Stats().Skipped[metrics.ReasonNoFace], ShouldEqual, 1)

				var ds model.Dataset
				So(results.ReadJSON(f.layout.Info(), &ds), ShouldBeNil)
				So(ds.Participants, ShouldHaveLength, 4)
				So(ds.Participants[2].ParticipantID, ShouldEqual, "p3")
				So(ds.Participants[2].Skipped, ShouldResemble, map[string]int{metrics.ReasonNoFace: 1})
				So(ds.Participants[2].Examples[0].Frame, ShouldEqual, 1)
			})

			Convey("And splits should follow the quota order", func() {
				var ds model.Dataset
				So(results.ReadJSON(f.layout.NewInfo(), &ds), ShouldBeNil)
				var tags []model.Split
				for _, p := range ds.Participants {
					tags = append(tags, p.Split)
					So(p.Rescaled, ShouldBeTrue)
				}
				So(tags, ShouldResemble, []model.Split{"train", "train", "valid", "test"})
			})

			Convey("And the report should be written", func() {
				var r report.Report
				So(results.ReadJSON(f.layout.Report(), &r), ShouldBeNil)
				So(r.RunID, ShouldEqual, svc.RunID())
				So(r.Examples, ShouldEqual, 23)
				So(r.Skipped[metrics.ReasonNoFace], ShouldEqual, 1)
				_, err := os.Stat(f.layout.Plot())
				So(err, ShouldBeNil)
			})

			Convey("And subclips should be consumed while the full videos remain", func() {
				_, err := os.Stat(f.layout.Clip("p1", 0))
				So(os.IsNotExist(err), ShouldBeTrue)
				_, err = os.Stat(f.layout.FullVideo("p1"))
				So(err, ShouldBeNil)
				_, err = os.Stat(f.layout.RawVideo("p1"))
				So(os.IsNotExist(err), ShouldBeTrue)
			})
		})
	})

	Convey("Given an unknown stage name", t, func() {
		svc := service.New(newFixture(t).options()...)

		Convey("Then Run should refuse it", func() {
			err := svc.Run(context.Background(), "train")
			So(errors.Is(err, service.ErrUnknownStage), ShouldBeTrue)
		})
	})

	Convey("Given a cancelled context", t, func() {
		svc := service.New(newFixture(t, "p1").options()...)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		Convey("Then Run should stop before the first stage", func() {
			err := svc.Run(ctx, service.StageSegment)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})
}

func TestService_Segment(t *testing.T) {
	Convey("Given a participant whose event log never sets the canvas anchor", t, func() {
		f := newFixture(t, "p1", "p2")
		f.reader.events["p2"] = []model.Event{{Sender: "bdot_canvas", TimeRun: ptr(1), TimeEnd: ptr(2)}}

		ctx := context.Background()
		l, err := ledger.Open(ctx, ":memory:")
		So(err, ShouldBeNil)
		defer func() { _ = l.Close() }()
		So(l.BeginRun(ctx, "run-1", "segment"), ShouldBeNil)

		svc := service.New(f.options(service.WithLedger(l), service.WithRunID("run-1"))...)

		Convey("When segmenting", func() {
			err := svc.Segment(ctx)

			Convey("Then the other participant should still be segmented", func() {
				So(err, ShouldBeNil)
				st := svc.Stats().Participants[service.StageSegment]
				So(st[metrics.OutcomeOK], ShouldEqual, 1)
				So(st[metrics.OutcomeFailed], ShouldEqual, 1)

				var meta model.SessionMeta
				So(results.ReadJSON(f.layout.SessionMeta("p1"), &meta), ShouldBeNil)
				So(meta.Intervals, ShouldHaveLength, 2)
				So(meta.Intervals[0].StartMS, ShouldEqual, 1500)
				So(meta.Viewport.InnerWidth, ShouldEqual, 1600)
				So(meta.DurationMS, ShouldEqual, 60000)
			})

			Convey("And the ledger should record the failure", func() {
				s, err := l.State(ctx, "p2", service.StageSegment)
				So(err, ShouldBeNil)
				So(s, ShouldEqual, ledger.StatusFailed)
			})

			Convey("And sampling should skip the unsegmented participant", func() {
				So(svc.Sample(ctx), ShouldBeNil)
				So(svc.Stats().Participants[service.StageSample][metrics.OutcomeSkipped], ShouldEqual, 1)

				var index []model.ParticipantMeta
				So(results.ReadJSON(f.layout.ParticipantIndex(), &index), ShouldBeNil)
				So(index, ShouldHaveLength, 1)
				So(index[0].FrameCounts, ShouldResemble, []int{3, 3})
			})
		})
	})
}

func TestService_DuplicateParticipants(t *testing.T) {
	Convey("Given two results for the same participant id", t, func() {
		f := newFixture(t, "undefined")
		dup := f.reader.entries[0]
		dup.ResultID = 999
		f.reader.entries = append(f.reader.entries, dup)
		svc := service.New(f.options()...)

		Convey("When segmenting", func() {
			So(svc.Segment(context.Background()), ShouldBeNil)

			Convey("Then only the first result should be used", func() {
				So(f.video.repairs, ShouldEqual, 1)
				var meta model.SessionMeta
				So(results.ReadJSON(f.layout.SessionMeta("undefined"), &meta), ShouldBeNil)
				So(meta.ResultID, ShouldEqual, 100)
			})
		})
	})
}

func TestService_UnsafeParticipantIDs(t *testing.T) {
	Convey("Given results whose participant ids are path tricks", t, func() {
		f := newFixture(t, "p1")
		for i, id := range []string{".", "..", "../../out", "a/b", ""} {
			f.reader.entries = append(f.reader.entries, results.Entry{
				ParticipantID: id,
				ResultID:      int64(500 + i),
				Dir:           f.reader.entries[0].Dir,
			})
			f.reader.events[id] = f.reader.events["p1"]
		}

		keep := []string{
			filepath.Join(f.layout.Work, "ledger.db"),
			filepath.Join(f.layout.Work, "dots", "other", "other_0_frame_0.jpg"),
		}
		for _, path := range keep {
			So(os.MkdirAll(filepath.Dir(path), 0o755), ShouldBeNil)
			So(os.WriteFile(path, []byte("x"), 0o600), ShouldBeNil)
		}
		svc := service.New(f.options()...)

		Convey("When segmenting", func() {
			err := svc.Segment(context.Background())

			Convey("Then only the well-formed participant should be processed", func() {
				So(err, ShouldBeNil)
				So(f.video.repairs, ShouldEqual, 1)
				So(svc.Stats().Participants[service.StageSegment][metrics.OutcomeOK], ShouldEqual, 1)
			})

			Convey("And files outside that participant's directory should survive", func() {
				for _, path := range keep {
					_, statErr := os.Stat(path)
					So(statErr, ShouldBeNil)
				}
			})
		})
	})
}

func TestService_Resume(t *testing.T) {
	Convey("Given a ledger shared between runs", t, func() {
		f := newFixture(t, "p1", "p2")
		ctx := context.Background()
		l, err := ledger.Open(ctx, ":memory:")
		So(err, ShouldBeNil)
		defer func() { _ = l.Close() }()
		So(l.BeginRun(ctx, "run-1", "run"), ShouldBeNil)

		opts := f.options(service.WithLedger(l), service.WithRunID("run-1"), service.WithDetector(fakeDetector{}))
		So(service.New(opts...).Run(ctx, service.StageSegment, service.StageSample, service.StageNormalize), ShouldBeNil)
		So(f.video.repairs, ShouldEqual, 2)

		Convey("When segmenting again with resume", func() {
			svc := service.New(opts...)
			So(svc.Segment(ctx), ShouldBeNil)

			Convey("Then completed participants should be skipped", func() {
				So(f.video.repairs, ShouldEqual, 2)
				So(svc.Stats().Participants[service.StageSegment][metrics.OutcomeSkipped], ShouldEqual, 2)
			})
		})

		Convey("When segmenting again without resume", func() {
			svc := service.New(append(opts, service.WithResume(false))...)
			So(svc.Segment(ctx), ShouldBeNil)

			Convey("Then every participant should be redone", func() {
				So(f.video.repairs, ShouldEqual, 4)
			})
		})

		Convey("When normalizing again under a different quota list", func() {
			svc := service.New(append(opts, service.WithQuotas([]split.Quota{{Count: 2, Tag: model.SplitTest}}))...)
			So(svc.Normalize(ctx), ShouldBeNil)

			Convey("Then done participants should be retagged without new crops", func() {
				var ds model.Dataset
				So(results.ReadJSON(f.layout.Info(), &ds), ShouldBeNil)
				for _, p := range ds.Participants {
					So(p.Split, ShouldEqual, model.SplitTest)
					So(p.Examples[0].Split, ShouldEqual, model.SplitTest)
				}
				So(svc.Stats().Participants[service.StageNormalize][metrics.OutcomeSkipped], ShouldEqual, 2)
			})
		})
	})

	Convey("Given a segmented participant whose subclip went missing", t, func() {
		f := newFixture(t, "p1")
		ctx := context.Background()
		svc := service.New(f.options()...)
		So(svc.Segment(ctx), ShouldBeNil)
		So(os.Remove(f.layout.Clip("p1", 1)), ShouldBeNil)

		Convey("When sampling", func() {
			err := svc.Sample(ctx)

			Convey("Then the participant should be segmented again first", func() {
				So(err, ShouldBeNil)
				So(f.video.trims, ShouldEqual, 4)
				So(f.video.repairs, ShouldEqual, 2)
				_, err := os.Stat(f.layout.ParticipantMeta("p1"))
				So(err, ShouldBeNil)
			})
		})
	})
}

func TestService_Normalize(t *testing.T) {
	Convey("Given more participants than the quotas allow", t, func() {
		f := newFixture(t, "p1", "p2", "p3")
		svc := service.New(f.options(
			service.WithDetector(fakeDetector{}),
			service.WithQuotas([]split.Quota{{Count: 1, Tag: model.SplitTrain}, {Count: 1, Tag: model.SplitValid}}),
		)...)

		Convey("Then the run should fail with an exhausted quota", func() {
			err := svc.Run(context.Background(), service.StageSegment, service.StageSample, service.StageNormalize)
			So(errors.Is(err, split.ErrQuotaExhausted), ShouldBeTrue)
		})
	})

	Convey("Given quotas larger than the participant list", t, func() {
		f := newFixture(t, "p1")
		rec := &recordingLogger{}
		svc := service.New(f.options(
			service.WithLogger(rec),
			service.WithDetector(fakeDetector{}),
			service.WithQuotas([]split.Quota{{Count: 2, Tag: model.SplitTrain}, {Count: 1, Tag: model.SplitValid}}),
		)...)

		Convey("When normalizing", func() {
			So(svc.Run(context.Background(), service.StageSegment, service.StageSample, service.StageNormalize), ShouldBeNil)

			Convey("Then the quota list should be logged in its config form", func() {
				fields, ok := rec.find("assigning splits")
				So(ok, ShouldBeTrue)
				So(fields["splits"], ShouldEqual, "2:train,1:valid")
				So(fields["participants"], ShouldEqual, 1)
			})

			Convey("And the unused split slots should be reported", func() {
				fields, ok := rec.find("dataset assembled")
				So(ok, ShouldBeTrue)
				So(fields["split_slots_left"], ShouldEqual, 2)
			})
		})
	})

	Convey("Given no landmark detector", t, func() {
		svc := service.New(newFixture(t, "p1").options()...)

		Convey("Then normalizing should be refused", func() {
			So(errors.Is(svc.Normalize(context.Background()), service.ErrNoDetector), ShouldBeTrue)
		})
	})

	Convey("Given full frames are kept", t, func() {
		f := newFixture(t, "p1")
		svc := service.New(f.options(service.WithDetector(fakeDetector{}), service.WithKeepFullFrame(true), service.WithJPEGQuality(80))...)

		Convey("When normalizing", func() {
			So(svc.Run(context.Background(), service.StageSegment, service.StageSample, service.StageNormalize), ShouldBeNil)

			Convey("Then every example should name a full frame next to its crops", func() {
				var pe model.ParticipantExamples
				So(results.ReadJSON(f.layout.ExampleMeta("p1"), &pe), ShouldBeNil)
				So(pe.Examples, ShouldHaveLength, 6)
				ex := pe.Examples[4]
				So(ex.FileNameFull, ShouldEqual, "p1_1_1_full.jpg")
				So(ex.FileNameRight, ShouldEqual, "p1_1_1_right.jpg")
				So(ex.Label, ShouldResemble, [2]float64{0.75, 0.8})

				img, err := imagestore.Load(filepath.Join(f.layout.Processed(), ex.FileNameRight))
				So(err, ShouldBeNil)
				So(img.Bounds().Dx(), ShouldEqual, 128)
				So(img.Bounds().Dy(), ShouldEqual, 128)
			})
		})
	})
}

func TestService_Rescale(t *testing.T) {
	Convey("Given info.json with one participant lacking a viewport", t, func() {
		f := newFixture(t)
		svc := service.New(f.options()...)
		So(results.WriteJSON(f.layout.Info(), model.Dataset{Participants: []model.ParticipantExamples{
			{ParticipantID: "a", Split: model.SplitTrain, Viewport: model.Viewport{InnerWidth: 1000, InnerHeight: 750},
				Examples: []model.Example{{Label: [2]float64{0.5, 0.4}, Split: model.SplitTrain}}},
			{ParticipantID: "b", Split: model.SplitTest, Examples: []model.Example{{Label: [2]float64{0.5, 0.4}}}},
		}}), ShouldBeNil)

		Convey("When rescaling", func() {
			So(svc.Rescale(context.Background()), ShouldBeNil)

			Convey("Then only the participant with a viewport should remain", func() {
				var ds model.Dataset
				So(results.ReadJSON(f.layout.NewInfo(), &ds), ShouldBeNil)
				So(ds.Participants, ShouldHaveLength, 1)
				So(ds.Participants[0].Examples[0].Label[1], ShouldAlmostEqual, 0.3, 1e-12)
				So(svc.Stats().Participants[service.StageRescale][metrics.OutcomeFailed], ShouldEqual, 1)
			})
		})
	})

	Convey("Given no info.json", t, func() {
		svc := service.New(newFixture(t).options()...)

		Convey("Then rescaling should report the missing input", func() {
			So(errors.Is(svc.Rescale(context.Background()), service.ErrMissingInput), ShouldBeTrue)
		})
	})
}

func TestService_Package(t *testing.T) {
	Convey("Given five examples tagged train, train, valid, test and bogus", t, func() {
		f := newFixture(t)
		svc := service.New(f.options()...)
		store := imagestore.New(f.layout.Processed())
		crop := fakeCrop()

		var examples []model.Example
		for i, tag := range []model.Split{"train", "train", "valid", "test", "bogus"} {
			ex := model.Example{
				Dot:           0,
				Frame:         i,
				FileNameRight: service.CropName("p1", 0, i, service.SideRight),
				FileNameLeft:  service.CropName("p1", 0, i, service.SideLeft),
				Label:         [2]float64{0.1 * float64(i), 0.2},
				Split:         tag,
			}
			So(store.Write(ex.FileNameRight, crop), ShouldBeNil)
			So(store.Write(ex.FileNameLeft, crop), ShouldBeNil)
			examples = append(examples, ex)
		}
		ds := model.Dataset{Participants: []model.ParticipantExamples{{ParticipantID: "p1", Examples: examples}}}
		So(results.WriteJSON(f.layout.NewInfo(), ds), ShouldBeNil)

		Convey("When packaging", func() {
			counts, err := svc.Package(context.Background())

			Convey("Then the counts should be 2, 1, 1 with one dropped", func() {
				So(err, ShouldBeNil)
				So(counts, ShouldResemble, service.PackageCounts{Train: 2, Valid: 1, Test: 1, Dropped: 1})
				So(svc.Stats().Packaged, ShouldResemble, counts)
			})

			Convey("And the files should hold the same records", func() {
				So(readRecords(t, f.layout.Records(model.SplitTrain)), ShouldHaveLength, 2)
				So(readRecords(t, f.layout.Records(model.SplitValid)), ShouldHaveLength, 1)
				test := readRecords(t, f.layout.Records(model.SplitTest))
				So(test, ShouldHaveLength, 1)
				So(test[0][tfrecord.KeyLabel].Floats[0], ShouldAlmostEqual, 0.3, 1e-6)

				left, err := store.ReadBytes(examples[3].FileNameLeft)
				So(err, ShouldBeNil)
				So(test[0][tfrecord.KeyEyeLeft].Bytes[0], ShouldResemble, left)
			})
		})

		Convey("When a crop is missing", func() {
			So(os.Remove(store.Path(examples[2].FileNameLeft)), ShouldBeNil)
			_, err := svc.Package(context.Background())

			Convey("Then packaging should fail without leaving files behind", func() {
				So(err, ShouldNotBeNil)
				for _, sp := range model.Splits {
					_, statErr := os.Stat(f.layout.Records(sp))
					So(os.IsNotExist(statErr), ShouldBeTrue)
					_, statErr = os.Stat(f.layout.Records(sp) + ".tmp")
					So(os.IsNotExist(statErr), ShouldBeTrue)
				}
			})
		})
	})
}
