package types

import (
	"time"

	"github.com/google/uuid"
)

// Candidate is a raw detection produced by one dedispersion tree. Candidates
// are cheap and plentiful; the sifter is responsible for thresholding and
// coincidence rejection.
type Candidate struct {
	// Tree is the index of the producing tree within dedisperse.trees.
	Tree int `json:"tree"`

	// Time is the arrival time at the high-frequency edge of the band,
	// in seconds since the start of the stream.
	Time float64 `json:"time"`

	// DM is the trial dispersion measure in pc cm^-3.
	DM float64 `json:"dm"`

	// SNR is the matched-filter significance of the detection.
	SNR float64 `json:"snr"`

	// Width is the boxcar width, in downsampled samples, that maximized SNR.
	Width int `json:"width"`
}

// Trigger is a sifted candidate that survived thresholding and
// deduplication. Triggers fan out to every configured action.
type Trigger struct {
	ID        uuid.UUID `json:"id"`
	Tree      int       `json:"tree"`
	Time      float64   `json:"time"`
	DM        float64   `json:"dm"`
	SNR       float64   `json:"snr"`
	Width     int       `json:"width"`
	NHits     int       `json:"n_hits"`     // candidates merged into this trigger
	EmittedAt time.Time `json:"emitted_at"` // wall-clock emission time
}

// NewTrigger promotes a candidate to a trigger with a fresh ID.
func NewTrigger(c Candidate) Trigger {
	return Trigger{
		ID:        uuid.New(),
		Tree:      c.Tree,
		Time:      c.Time,
		DM:        c.DM,
		SNR:       c.SNR,
		Width:     c.Width,
		NHits:     1,
		EmittedAt: time.Now().UTC(),
	}
}
