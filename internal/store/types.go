package store

import (
	"errors"
	"time"

	"github.com/naveenchhikara/aegis-notify/internal/notify"
)

var (
	// ErrNotFound is returned when a row addressed by id does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNotLeaseHolder is returned when a worker tries to complete or fail
	// a job whose lease it no longer holds.
	ErrNotLeaseHolder = errors.New("not the lease holder")
)

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Event is one persisted unit of notifiable activity.
type Event struct {
	ID          string
	RecipientID string
	Kind        notify.EventKind
	BatchKey    string
	Cadence     notify.Cadence
	Payload     []byte // kind-specific rendering payload, JSON
	CreatedAt   time.Time
	ConsumedAt  *time.Time // nil until included in a sent message
}

// Consumed reports whether the event was already folded into an outgoing
// message. Consumption is monotonic; the store never clears ConsumedAt.
func (e Event) Consumed() bool { return e.ConsumedAt != nil }

// JobType is the closed set of queue job types.
type JobType string

const (
	JobSendImmediate       JobType = "send-immediate"
	JobCompileDailyDigest  JobType = "compile-daily-digest"
	JobCompileWeeklyDigest JobType = "compile-weekly-digest"
	JobDeadlineSweep       JobType = "deadline-sweep"
	JobReportGenerate      JobType = "report-generate"
)

// JobState is the queue state machine. "failed" is transitional and never
// persists: a failed run is written back as pending (retry scheduled) or
// dead-lettered, with the error recorded either way.
type JobState string

const (
	JobPending      JobState = "pending"
	JobActive       JobState = "active"
	JobCompleted    JobState = "completed"
	JobFailed       JobState = "failed"
	JobDeadLettered JobState = "dead-lettered"
)

// Job is one durable queue entry.
type Job struct {
	ID          string
	Type        JobType
	Payload     []byte
	RunAt       time.Time
	State       JobState
	Attempts    int
	MaxAttempts int
	LastError   string
	LeasedBy    string
	LeaseExpiry *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DeliveryAttempt is one append-only record of a send try.
type DeliveryAttempt struct {
	ID            int64
	JobID         string
	Attempt       int
	Outcome       string // "success" or an error code
	ProviderMsgID string
	Error         string
	At            time.Time
}

// Deadline is a narrow projection of a business deadline, fed to the
// recurring sweep. The business schema proper lives outside this service.
type Deadline struct {
	ID          string
	RecipientID string
	Title       string
	DueAt       time.Time
	Context     notify.Context
	SweptAt     *time.Time
}
