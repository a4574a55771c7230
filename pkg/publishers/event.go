package publishers

import (
	"encoding/json"
	"time"

	"github.com/samvad-hq/neows-harvester/pkg/neows"
)

// Event represents the payload published downstream: one harvested feed
// window with the upstream JSON body carried verbatim.
type Event struct {
	Source      string          `json:"source"`
	StartDate   string          `json:"start_date"`
	EndDate     string          `json:"end_date"`
	StatusCode  int             `json:"status_code"`
	Digest      string          `json:"digest"`
	Payload     json.RawMessage `json:"payload"`
	CollectedAt time.Time       `json:"collected_at"`
}

// NewEvent constructs an Event for a fetched feed window.
func NewEvent(source string, rng neows.DateRange, statusCode int, digest string, payload []byte) Event {
	return Event{
		Source:      source,
		StartDate:   rng.StartDate,
		EndDate:     rng.EndDate,
		StatusCode:  statusCode,
		Digest:      digest,
		Payload:     json.RawMessage(payload),
		CollectedAt: time.Now().UTC(),
	}
}

// attributes returns the routing metadata attached to queue/topic messages.
func (e Event) attributes() map[string]string {
	return map[string]string{
		"source":     e.Source,
		"start_date": e.StartDate,
		"end_date":   e.EndDate,
	}
}
