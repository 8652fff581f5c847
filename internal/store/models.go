// Package store implements the coordinator's persisted entities: the
// Identity, Job, Worker, and Message stores described in spec.md §3-§4.
// Each entity gets a narrow Store interface (spec.md §9 "Repository
// mixins" design note) backed by a single GORM Engine; the stale-row and
// CAS queries are methods of the job and worker stores.
package store

import (
	"time"

	"gorm.io/gorm"
)

// StringList is a JSON-encoded []string column, following the teacher's
// convention of JSON-typed columns for list/map fields (models.go's
// Labels field, generalized here to every set-valued column in §3).
type StringList []string

// Identity is the persisted form of spec.md §3's Identity entity.
// HMACKey holds the wrapped (or, for legacy rows, plaintext) key bytes;
// KeyWrapID names the cipher.Provider that wrapped it, or is empty for
// plaintext legacy rows.
type Identity struct {
	ClientID     string     `gorm:"column:client_id;primaryKey"`
	Role         string     `gorm:"column:role"`
	HMACKey      []byte     `gorm:"column:hmac_key"`
	KeyWrapID    string     `gorm:"column:key_wrap_id"`
	AllowedCIDRs StringList `gorm:"column:allowed_cidrs;type:text;serializer:json"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at"`
}

func (Identity) TableName() string { return "identities" }

// Role constants per spec.md §3.
const (
	RoleClient = "client"
	RoleWorker = "worker"
	RoleAdmin  = "admin"
)

// Worker is the persisted form of spec.md §3's Worker entity.
type Worker struct {
	WorkerID             string            `gorm:"column:worker_id;primaryKey"`
	Status               string            `gorm:"column:status"`
	LastSeen             *time.Time        `gorm:"column:last_seen"`
	Capabilities         StringList        `gorm:"column:capabilities;type:text;serializer:json"`
	Binaries             StringList        `gorm:"column:binaries;type:text;serializer:json"`
	Paths                StringList        `gorm:"column:paths;type:text;serializer:json"`
	Transport            string            `gorm:"column:transport"`
	TransportMetadata    map[string]string `gorm:"column:transport_metadata;type:text;serializer:json"`
	RegistrationInterval int               `gorm:"column:registration_interval"`
	Version              string            `gorm:"column:version"`
	CreatedAt            time.Time         `gorm:"column:created_at"`
	UpdatedAt            time.Time         `gorm:"column:updated_at"`
}

func (Worker) TableName() string { return "workers" }

// Worker status constants per spec.md §3.
const (
	WorkerOnline  = "online"
	WorkerOffline = "offline"
	WorkerError   = "error"
)

// Job is the persisted form of spec.md §3's Job entity.
type Job struct {
	JobID               string            `gorm:"column:job_id;primaryKey"`
	RequesterID         string            `gorm:"column:requester_id"`
	BinaryName          string            `gorm:"column:binary_name"`
	Arguments           StringList        `gorm:"column:arguments;type:text;serializer:json"`
	Paths               StringList        `gorm:"column:paths;type:text;serializer:json"`
	Status              string            `gorm:"column:status"`
	ExitCode            *int              `gorm:"column:exit_code"`
	WorkerID            *string           `gorm:"column:worker_id"`
	CreatedAt           time.Time         `gorm:"column:created_at"`
	LastUpdate          time.Time         `gorm:"column:last_update"`
	WorkerLastSeen      *time.Time        `gorm:"column:worker_last_seen"`
	ClientLastSeen      *time.Time        `gorm:"column:client_last_seen"`
	Transport           string            `gorm:"column:transport"`
	TransportMetadata   map[string]string `gorm:"column:transport_metadata;type:text;serializer:json"`
	HeartbeatInterval   int               `gorm:"column:heartbeat_interval"`
	Monitor             bool              `gorm:"column:monitor"`
}

func (Job) TableName() string { return "jobs" }

// Job status constants: the state machine of spec.md §4.2.
const (
	JobPending                  = "pending"
	JobAssigned                 = "assigned"
	JobRunning                  = "running"
	JobCanceling                = "canceling"
	JobCompleted                = "completed"
	JobFailed                   = "failed"
	JobCanceled                 = "canceled"
)

// Terminal reports whether status is one with no further legal transition.
func Terminal(status string) bool {
	switch status {
	case JobCompleted, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}

// Message is the persisted form of spec.md §3's Message entity.
type Message struct {
	MessageID   string    `gorm:"column:message_id;primaryKey"`
	SenderID    string    `gorm:"column:sender_id"`
	RecipientID string    `gorm:"column:recipient_id"`
	JobID       string    `gorm:"column:job_id"`
	MessageType string    `gorm:"column:message_type"`
	Payload     []byte    `gorm:"column:payload;type:text"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	SentAt      *time.Time `gorm:"column:sent_at"`
}

func (Message) TableName() string { return "messages" }

// Message types per spec.md §3.
const (
	MessageJobRequest = "job_request"
	MessageJobStatus  = "job_status"
	MessageJobLogs    = "job_logs"
)

// txFunc is the shape of a function run inside a single transaction,
// mirroring the teacher's use of *gorm.DB as the unit-of-work handle.
type txFunc func(tx *gorm.DB) error
