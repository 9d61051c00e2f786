// Package results reads raw study exports and stores the JSON documents the
// pipeline stages hand to each other.
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/okian/gazeset/internal/domain/model"
)

// File names inside a study export.
const (
	MetadataFile = "metadata.json"
	EventLogFile = "data.txt"
	FilesDir     = "files"
)

// UndefinedParticipant is used when a result has no participant_id parameter.
const UndefinedParticipant = "undefined"

type metadata struct {
	Data []struct {
		StudyResults []studyResult `json:"studyResults"`
	} `json:"data"`
}

type studyResult struct {
	ID                 int64             `json:"id"`
	URLQueryParameters map[string]string `json:"urlQueryParameters"`
	ComponentResults   []struct {
		Path string `json:"path"`
	} `json:"componentResults"`
}

// Entry locates one participant's result inside the export.
type Entry struct {
	ParticipantID string
	ResultID      int64
	// Dir is the result directory holding data.txt and files/.
	Dir string
}

// Reader reads a study export rooted at a directory.
type Reader struct {
	root string
}

// NewReader creates a reader for the export at root.
func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Entries lists the export's results in metadata order.
func (r *Reader) Entries(ctx context.Context) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(r.root, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var m metadata
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrMetadata, err)
	}
	if len(m.Data) == 0 || len(m.Data[0].StudyResults) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoResults)
	}

	out := make([]Entry, 0, len(m.Data[0].StudyResults))
	for _, sr := range m.Data[0].StudyResults {
		if len(sr.ComponentResults) == 0 {
			return nil, fmt.Errorf("result %d has no component results: %w", sr.ID, ErrMetadata)
		}
		pid := sr.URLQueryParameters["participant_id"]
		if pid == "" {
			pid = UndefinedParticipant
		}
		out = append(out, Entry{
			ParticipantID: pid,
			ResultID:      sr.ID,
			Dir:           filepath.Join(r.root, filepath.FromSlash(sr.ComponentResults[0].Path)),
		})
	}
	return out, nil
}

// Session loads the event log of e. Chunks are left to the segmenter.
func (r *Reader) Session(ctx context.Context, e Entry) (*model.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := filepath.Join(e.Dir, EventLogFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var events []model.Event
	if err := json.Unmarshal(b, &events); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", path, ErrEventLog, err)
	}
	return &model.Session{
		ParticipantID: e.ParticipantID,
		ResultID:      e.ResultID,
		Dir:           e.Dir,
		Events:        events,
	}, nil
}

// CheckParticipantID accepts ids that are one local path element. Ids are
// joined into work and output paths, so ".", "..", separators and NUL are
// refused.
func CheckParticipantID(id string) error {
	switch {
	case id == "", id == ".", id == "..",
		strings.ContainsAny(id, "/\\\x00"),
		!filepath.IsLocal(id),
		filepath.Base(id) != id:
		return fmt.Errorf("%q: %w", id, ErrParticipantID)
	}
	return nil
}

// ChunkDir returns the directory holding e's video chunks.
func (e Entry) ChunkDir() string {
	return filepath.Join(e.Dir, FilesDir)
}
