package digest

import (
	"encoding/json"
	"time"

	"github.com/naveenchhikara/aegis-notify/internal/mailer"
	"github.com/naveenchhikara/aegis-notify/internal/notify"
)

// SectionCap bounds how many events one section renders. Batch imports can
// raise thousands of events under a single key; beyond the cap the section
// shows a "+N more" line instead of an unbounded list.
const SectionCap = 20

// Compiled is one consolidated outbound message plus the ids of every
// event it covers. Callers mark those events consumed only after the
// delivery adapter reports success.
type Compiled struct {
	Message  mailer.Message
	EventIDs []string
}

// Section is one rendered group of events sharing a batch key.
type Section struct {
	Key      string
	Kind     notify.EventKind
	Title    string
	Items    []Item
	More     int // events beyond SectionCap
	earliest time.Time
}

// Item is one rendered event line.
type Item struct {
	Title   string
	Summary string
	URL     string
	At      time.Time
}

// payload is the kind-specific rendering payload events carry. Unknown
// fields are ignored; a payload that fails to decode marks the whole
// group as malformed and the group is skipped.
type payload struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
}

func decodePayload(raw []byte) (payload, error) {
	var p payload
	if len(raw) == 0 {
		return p, nil
	}
	err := json.Unmarshal(raw, &p)
	return p, err
}
