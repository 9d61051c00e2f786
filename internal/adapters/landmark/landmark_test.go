package landmark_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"testing"
	"time"

	"github.com/okian/gazeset/internal/adapters/landmark"
	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// sidecar answers requests from a canned table keyed by path.
func sidecar(t *testing.T, answers map[string]string) *landmark.Client {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	t.Cleanup(func() {
		_ = reqW.Close()
		_ = respW.Close()
	})
	go func() {
		sc := bufio.NewScanner(reqR)
		for sc.Scan() {
			var req struct {
				Path string `json:"path"`
			}
			if err := json.Unmarshal(sc.Bytes(), &req); err != nil {
				return
			}
			ans, ok := answers[req.Path]
			if !ok {
				continue // never answer
			}
			if _, err := fmt.Fprintln(respW, ans); err != nil {
				return
			}
		}
	}()
	return landmark.NewClient(reqW, respR)
}

func TestClient(t *testing.T) {
	Convey("Given a detector sidecar", t, func() {
		c := sidecar(t, map[string]string{
			"face.jpg":    `{"landmarks": [[0.25, 0.5], [0.75, 0.125]]}`,
			"empty.jpg":   `{"landmarks": []}`,
			"broken.jpg":  `{"error": "cannot read image"}`,
			"garbage.jpg": `not json`,
		})
		ctx := context.Background()

		Convey("When a face is found", func() {
			set, err := c.Detect(ctx, model.Frame{Path: "face.jpg"}, nil)

			Convey("Then normalized points should be returned in order", func() {
				So(err, ShouldBeNil)
				So(set, ShouldResemble, model.LandmarkSet{{X: 0.25, Y: 0.5}, {X: 0.75, Y: 0.125}})
			})
		})

		Convey("When no face is found", func() {
			_, err := c.Detect(ctx, model.Frame{Path: "empty.jpg"}, nil)

			Convey("Then it should be ErrNoFace and the client should stay usable", func() {
				So(errors.Is(err, eyecrop.ErrNoFace), ShouldBeTrue)
				_, err = c.Detect(ctx, model.Frame{Path: "face.jpg"}, nil)
				So(err, ShouldBeNil)
			})
		})

		Convey("When the sidecar reports an error", func() {
			_, err := c.Detect(ctx, model.Frame{Path: "broken.jpg"}, nil)

			Convey("Then it should be a detector error", func() {
				So(errors.Is(err, landmark.ErrDetector), ShouldBeTrue)
				So(err.Error(), ShouldContainSubstring, "cannot read image")
			})
		})

		Convey("When the sidecar answers garbage", func() {
			_, err := c.Detect(ctx, model.Frame{Path: "garbage.jpg"}, nil)

			Convey("Then it should be a detector error", func() {
				So(errors.Is(err, landmark.ErrDetector), ShouldBeTrue)
			})
		})

		Convey("When the sidecar never answers", func() {
			tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
			defer cancel()
			_, err := c.Detect(tctx, model.Frame{Path: "hang.jpg"}, nil)

			Convey("Then the deadline should win and the client should be closed", func() {
				So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
				_, err = c.Detect(ctx, model.Frame{Path: "face.jpg"}, nil)
				So(errors.Is(err, landmark.ErrClosed), ShouldBeTrue)
			})
		})
	})

	Convey("Given an empty command", t, func() {
		_, err := landmark.Start(context.Background(), nil, nil)

		Convey("Then it should be rejected", func() {
			So(errors.Is(err, landmark.ErrDetector), ShouldBeTrue)
		})
	})
}

func TestClient_ReleasesReaderWhenStreamCloses(t *testing.T) {
	Convey("Given a client whose sidecar never answers", t, func() {
		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()
		drained := make(chan struct{})
		go func() {
			_, _ = io.Copy(io.Discard, reqR)
			close(drained)
		}()
		c := landmark.NewClient(reqW, respR)
		before := runtime.NumGoroutine()

		Convey("When requests are cancelled and the response stream is closed", func() {
			for range 5 {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, _ = c.Detect(ctx, model.Frame{Path: "hang.jpg"}, nil)
			}
			tctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			_, err := c.Detect(tctx, model.Frame{Path: "hang.jpg"}, nil)
			cancel()
			So(err, ShouldNotBeNil)

			So(respW.Close(), ShouldBeNil)
			So(reqW.Close(), ShouldBeNil)
			<-drained

			Convey("Then no goroutine should be left behind", func() {
				deadline := time.Now().Add(2 * time.Second)
				for runtime.NumGoroutine() >= before && time.Now().Before(deadline) {
					time.Sleep(5 * time.Millisecond)
				}
				So(runtime.NumGoroutine(), ShouldBeLessThan, before)
			})

			Convey("And later requests should report a closed client", func() {
				_, err := c.Detect(context.Background(), model.Frame{Path: "face.jpg"}, nil)
				So(errors.Is(err, landmark.ErrClosed), ShouldBeTrue)
			})
		})
	})

	Convey("Given a sidecar that exits while idle", t, func() {
		reqR, reqW := io.Pipe()
		respR, respW := io.Pipe()
		go func() { _, _ = io.Copy(io.Discard, reqR) }()
		c := landmark.NewClient(reqW, respR)
		So(respW.Close(), ShouldBeNil)

		Convey("Then the next request should fail as closed", func() {
			_, err := c.Detect(context.Background(), model.Frame{Path: "face.jpg"}, nil)
			So(errors.Is(err, landmark.ErrClosed), ShouldBeTrue)
			So(reqW.Close(), ShouldBeNil)
		})
	})
}
