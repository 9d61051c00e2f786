package service_test

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/okian/gazeset/internal/adapters/results"
	"github.com/okian/gazeset/internal/adapters/video"
	service "github.com/okian/gazeset/internal/app"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/pkg/logger"
)

const frameSide = 512

// fakeReader serves sessions from memory; chunk files live on disk.
type fakeReader struct {
	entries []results.Entry
	events  map[string][]model.Event
}

func (r *fakeReader) Entries(context.Context) ([]results.Entry, error) {
	return r.entries, nil
}

func (r *fakeReader) Session(_ context.Context, e results.Entry) (*model.Session, error) {
	return &model.Session{
		ParticipantID: e.ParticipantID,
		ResultID:      e.ResultID,
		Dir:           e.Dir,
		Events:        r.events[e.ParticipantID],
	}, nil
}

// fakeVideo stands in for ffmpeg and counts calls.
type fakeVideo struct {
	repairs int
	trims   int
}

func (v *fakeVideo) Repair(_ context.Context, src, dst string) error {
	v.repairs++
	b, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, b, 0o600)
}

func (v *fakeVideo) Trim(_ context.Context, _, dst string, _, _ float64) error {
	v.trims++
	return os.WriteFile(dst, []byte("clip"), 0o600)
}

func (v *fakeVideo) Probe(context.Context, string) (time.Duration, error) {
	return time.Minute, nil
}

// fakeSampler writes retain copies of a test frame and consumes the clip.
type fakeSampler struct {
	retain int
	frame  []byte
}

func (s *fakeSampler) Sample(_ context.Context, clip, dir, prefix string) (video.Sample, error) {
	if err := os.Remove(clip); err != nil {
		return video.Sample{}, err
	}
	for i := range s.retain {
		if err := os.WriteFile(filepath.Join(dir, video.FrameName(prefix, i)), s.frame, 0o600); err != nil {
			return video.Sample{}, err
		}
	}
	return video.Sample{Decoded: 30, Retained: s.retain}, nil
}

// fakeDetector returns a centered face except for frames listed in noFace,
// keyed pid/dot/frame.
type fakeDetector struct {
	noFace map[string]bool
}

func (d fakeDetector) Detect(_ context.Context, f model.Frame, _ image.Image) (model.LandmarkSet, error) {
	if d.noFace[fmt.Sprintf("%s/%d/%d", f.ParticipantID, f.Dot, f.Index)] {
		return nil, eyecrop.ErrNoFace
	}
	return centeredFace(), nil
}

func centeredFace() model.LandmarkSet {
	set := make(model.LandmarkSet, 468)
	for i, p := range map[int][2]int{
		33: {150, 250}, 133: {210, 250}, 159: {180, 240}, 145: {180, 262},
		362: {300, 250}, 263: {361, 252}, 386: {330, 238}, 374: {330, 261},
	} {
		set[i] = model.NormPoint{X: float64(p[0]) / frameSide, Y: float64(p[1]) / frameSide}
	}
	return set
}

func encodedFrame(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, frameSide, frameSide))
	for y := range frameSide {
		for x := range frameSide {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func ptr(v float64) *float64 { return &v }

// sessionEvents builds an event log with one pause and a dot per target.
func sessionEvents(targets ...model.Coord) []model.Event {
	evs := []model.Event{
		{Sender: "consent", Meta: &model.EventMeta{WindowInnerHeight: 900, WindowInnerWidth: 1600}},
		{Sender: "i4", RecState: "recording", RecStamp: ptr(0)},
		{Sender: "i5", RecState: "paused", RecStamp: ptr(500)},
		{Sender: "i4", RecState: "recording", RecStamp: ptr(1000)},
		{Sender: "bdot_canvas", RecState: "recording", RecStamp: ptr(1000)},
	}
	for i, c := range targets {
		start := 2000 + float64(i)*3000
		evs = append(evs, model.Event{Sender: "bdot_canvas", TimeRun: ptr(start), TimeEnd: ptr(start + 2000), Coords: &c})
	}
	return evs
}

type fixture struct {
	layout  service.Layout
	reader  *fakeReader
	video   *fakeVideo
	sampler *fakeSampler
}

// newFixture lays out an export with two chunks per participant.
func newFixture(t *testing.T, pids ...string) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		layout: service.Layout{
			Input:  filepath.Join(root, "raw"),
			Work:   filepath.Join(root, "work"),
			Output: filepath.Join(root, "out"),
		},
		reader:  &fakeReader{events: map[string][]model.Event{}},
		video:   &fakeVideo{},
		sampler: &fakeSampler{retain: 3, frame: encodedFrame(t)},
	}
	for i, pid := range pids {
		e := results.Entry{ParticipantID: pid, ResultID: int64(100 + i), Dir: filepath.Join(f.layout.Input, pid)}
		if err := os.MkdirAll(e.ChunkDir(), 0o755); err != nil {
			t.Fatal(err)
		}
		for c := range 2 {
			if err := os.WriteFile(filepath.Join(e.ChunkDir(), video.ChunkName(pid, c)), []byte("chunk"), 0o600); err != nil {
				t.Fatal(err)
			}
		}
		f.reader.entries = append(f.reader.entries, e)
		f.reader.events[pid] = sessionEvents(model.Coord{X: 0.25, Y: 0.5}, model.Coord{X: 0.75, Y: 0.8})
	}
	return f
}

func (f *fixture) options(extra ...service.Option) []service.Option {
	return append([]service.Option{
		service.WithLayout(f.layout),
		service.WithReader(f.reader),
		service.WithVideo(f.video),
		service.WithSampler(f.sampler),
	}, extra...)
}

func fakeCrop() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := range 128 {
		for x := range 128 {
			img.SetRGBA(x, y, color.RGBA{R: uint8(2 * x), G: uint8(2 * y), B: 40, A: 255})
		}
	}
	return img
}

// recordingLogger keeps every message with its fields. With and Named share
// the same record.
type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

type logEntry struct {
	msg    string
	fields map[string]any
}

func (l *recordingLogger) add(msg string, fields []logger.Field) {
	e := logEntry{msg: msg, fields: map[string]any{}}
	for _, f := range fields {
		e.fields[f.Key] = f.Value
	}
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *recordingLogger) Info(_ context.Context, msg string, fields ...logger.Field) {
	l.add(msg, fields)
}

func (l *recordingLogger) Error(_ context.Context, msg string, fields ...logger.Field) {
	l.add(msg, fields)
}

func (l *recordingLogger) Debug(_ context.Context, msg string, fields ...logger.Field) {
	l.add(msg, fields)
}

func (l *recordingLogger) Warn(_ context.Context, msg string, fields ...logger.Field) {
	l.add(msg, fields)
}

func (l *recordingLogger) Fatal(_ context.Context, msg string, fields ...logger.Field) {
	l.add(msg, fields)
}

func (l *recordingLogger) With(...logger.Field) logger.Logger { return l }
func (l *recordingLogger) Named(string) logger.Logger         { return l }

// find returns the fields of the first message named msg.
func (l *recordingLogger) find(msg string) (map[string]any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e.msg == msg {
			return e.fields, true
		}
	}
	return nil, false
}
