// Package landmark talks to the external face landmark detector. The detector
// is a long-running sidecar speaking JSON lines: one {"path": ...} request per
// frame on stdin and one response per line on stdout.
package landmark

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"sync"
	"time"

	"github.com/okian/gazeset/internal/domain/eyecrop"
	"github.com/okian/gazeset/internal/domain/model"
	"github.com/okian/gazeset/pkg/metrics"
)

// maxLine bounds one response; 478 points fit well below it.
const maxLine = 1 << 20

type request struct {
	Path string `json:"path"`
}

type response struct {
	Landmarks [][2]float64 `json:"landmarks"`
	Error     string       `json:"error,omitempty"`
}

type reply struct {
	line []byte
	err  error
}

// Client sends detection requests over a pair of streams.
type Client struct {
	mu      sync.Mutex
	enc     *json.Encoder
	replies chan reply
	quit    chan struct{}
	broken  bool
}

// NewClient creates a client writing requests to w and reading responses
// from r. It starts one reader goroutine that returns once r reports EOF or
// an error. The caller owns both streams and must close r to release it;
// CommandDetector.Close does so once the sidecar exits.
func NewClient(w io.Writer, r io.Reader) *Client {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	c := &Client{
		enc:     json.NewEncoder(w),
		replies: make(chan reply, 1),
		quit:    make(chan struct{}),
	}
	go c.read(sc)
	return c
}

// read forwards response lines until the stream ends. Lines arriving after
// the client broke are dropped.
func (c *Client) read(sc *bufio.Scanner) {
	defer close(c.replies)
	for {
		var rep reply
		if sc.Scan() {
			rep.line = append([]byte(nil), sc.Bytes()...)
		} else {
			rep.err = sc.Err()
			if rep.err == nil {
				rep.err = io.EOF
			}
		}
		select {
		case c.replies <- rep:
		case <-c.quit:
		}
		if rep.err != nil {
			return
		}
	}
}

// fail marks the stream unusable. Callers hold mu.
func (c *Client) fail() {
	if !c.broken {
		c.broken = true
		close(c.quit)
	}
}

// Detect implements eyecrop.Detector. The frame is read by the sidecar from
// frame.Path; img is unused.
func (c *Client) Detect(ctx context.Context, frame model.Frame, _ image.Image) (model.LandmarkSet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() { metrics.ObserveDetector(time.Since(start)) }()

	if err := c.enc.Encode(request{Path: frame.Path}); err != nil {
		c.fail()
		return nil, fmt.Errorf("send %s: %w: %w", frame.Path, ErrClosed, err)
	}

	var res reply
	select {
	case <-ctx.Done():
		// The pending response would desynchronize the stream.
		c.fail()
		return nil, ctx.Err()
	case rep, ok := <-c.replies:
		if !ok {
			rep.err = io.EOF
		}
		res = rep
	}
	if res.err != nil {
		c.fail()
		return nil, fmt.Errorf("read response for %s: %w: %w", frame.Path, ErrClosed, res.err)
	}

	var resp response
	if err := json.Unmarshal(res.line, &resp); err != nil {
		return nil, fmt.Errorf("decode response for %s: %w: %w", frame.Path, ErrDetector, err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("%s: %w: %s", frame.Path, ErrDetector, resp.Error)
	}
	if len(resp.Landmarks) == 0 {
		return nil, fmt.Errorf("%s: %w", frame.Path, eyecrop.ErrNoFace)
	}
	set := make(model.LandmarkSet, len(resp.Landmarks))
	for i, p := range resp.Landmarks {
		set[i] = model.NormPoint{X: p[0], Y: p[1]}
	}
	return set, nil
}
