package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Job statuses. Transitions between them are enforced by the orchestrator;
// everything else treats these as opaque labels.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusPaused     = "paused"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
)

// Built-in job types. Scheduled tasks use their own open-ended type strings.
const (
	JobTypeVoterImport = "voter_import"
	JobTypeGeocoding   = "geocoding"
)

func JobStatusTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobErrorEntry is one element of the bounded error log stored on a job row.
type JobErrorEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Job is the durable record for one unit of background work. The orchestrator
// is the only writer of status/counters/error log; workers hold the row for
// the lifetime of one claim.
type Job struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Type           string         `gorm:"column:type;not null;index" json:"type"`
	Status         string         `gorm:"column:status;not null;index" json:"status"`
	IsDynamic      bool           `gorm:"column:is_dynamic;not null;default:false" json:"is_dynamic"`
	TotalItems     int            `gorm:"column:total_items;not null;default:0" json:"total_items"`
	ProcessedItems int            `gorm:"column:processed_items;not null;default:0" json:"processed_items"`
	Payload        datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	ErrorLog       datatypes.JSON `gorm:"column:error_log;type:jsonb" json:"error_log"`
	OutputStats    datatypes.JSON `gorm:"column:output_stats;type:jsonb" json:"output_stats,omitempty"`
	CreatedByID    uuid.UUID      `gorm:"type:uuid;column:created_by_id;index" json:"created_by_id"`
	CreatedAt      time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"not null" json:"updated_at"`
	StartedAt      *time.Time     `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt    *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (Job) TableName() string { return "job" }

// ProgressPercent derives the user-facing percentage. Terminal jobs are 100%,
// dynamic jobs report 0% until terminal, and in-flight static jobs cap at 99%
// so a job never shows 100% before its terminal transition.
func (j *Job) ProgressPercent() int {
	if j == nil {
		return 0
	}
	if JobStatusTerminal(j.Status) {
		return 100
	}
	if j.TotalItems <= 0 {
		return 0
	}
	pct := (100 * j.ProcessedItems) / j.TotalItems
	if pct > 99 {
		pct = 99
	}
	if pct < 0 {
		pct = 0
	}
	return pct
}
