// Package model contains domain models passed between pipeline stages.
package model

// Coord is a gaze target position in display coordinates.
type Coord struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

// EventMeta is the browser metadata block attached to some event rows.
type EventMeta struct {
	WindowInnerHeight float64 `json:"window_innerHeight"`
	WindowInnerWidth  float64 `json:"window_innerWidth"`
	UserAgent         string  `json:"userAgent,omitempty"`
}

// Event is one row of a participant's event log.
// Optional numeric fields are pointers so that a missing field is not
// mistaken for a zero timestamp.
type Event struct {
	Sender   string     `json:"sender"`
	RecState string     `json:"rec_state_ch,omitempty"`
	RecStamp *float64   `json:"rec_state_ch_stamp,omitempty"`
	TimeRun  *float64   `json:"time_run,omitempty"`
	TimeEnd  *float64   `json:"time_end,omitempty"`
	Coords   *Coord     `json:"coords,omitempty"`
	Meta     *EventMeta `json:"meta,omitempty"`
}

// Session is one participant's raw capture as found on disk.
type Session struct {
	ParticipantID string
	ResultID      int64
	// Dir is the result directory holding data.txt and files/.
	Dir    string
	Events []Event
	// Chunks are the raw video chunk paths in numeric order.
	Chunks []string
}

// Viewport returns the first viewport block found in the event log.
func (s *Session) Viewport() (Viewport, bool) {
	for _, e := range s.Events {
		if e.Meta != nil {
			return Viewport{
				InnerHeight: e.Meta.WindowInnerHeight,
				InnerWidth:  e.Meta.WindowInnerWidth,
				UserAgent:   e.Meta.UserAgent,
			}, true
		}
	}
	return Viewport{}, false
}

// Viewport is the browser viewport recorded for a participant.
type Viewport struct {
	InnerHeight float64 `json:"window_inner_height"`
	InnerWidth  float64 `json:"window_inner_width"`
	UserAgent   string  `json:"user_agent,omitempty"`
}
