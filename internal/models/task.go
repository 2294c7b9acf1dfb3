package models

import (
	"slices"
	"time"
)

type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusScheduled TaskStatus = "scheduled"
	StatusRunning   TaskStatus = "running"
	StatusSuccess   TaskStatus = "success"
	StatusError     TaskStatus = "error"
	StatusCancelled TaskStatus = "cancelled"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []TaskStatus{
	StatusPending,
	StatusScheduled,
	StatusRunning,
	StatusSuccess,
	StatusError,
	StatusCancelled,
}

// TaskSource tells which logical sub-store a task lives in.
type TaskSource string

const (
	SourceQueue   TaskSource = "queue"
	SourceHistory TaskSource = "history"
)

var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:   {StatusRunning, StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusPending, StatusCancelled},
	StatusRunning:   {StatusSuccess, StatusError, StatusCancelled},
	StatusError:     {StatusPending},
	StatusSuccess:   {},
	StatusCancelled: {},
}

// CanTransition reports whether from -> to is an edge of the task state machine.
func CanTransition(from, to TaskStatus) bool {
	allowed, ok := transitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

func (s TaskStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s TaskStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusCancelled
}

// SourceFor returns the sub-store a task in status s belongs to.
func SourceFor(s TaskStatus) TaskSource {
	if s.Terminal() {
		return SourceHistory
	}
	return SourceQueue
}

type PublishTask struct {
	ID           uint        `gorm:"primaryKey" json:"-"`
	TaskID       string      `gorm:"uniqueIndex;not null;size:64" json:"task_id"`
	PlanID       string      `gorm:"index;size:64" json:"plan_id"`
	VideoID      string      `gorm:"not null;index;size:255" json:"video_id"`
	AccountID    string      `gorm:"not null;index;size:255" json:"account_id"`
	PlatformCode string      `gorm:"not null;index;size:100" json:"platform_code"`
	Title        string      `gorm:"size:500" json:"title"`
	Description  string      `gorm:"type:text" json:"description"`
	Tags         StringArray `gorm:"type:text" json:"tags"`
	Cover        string      `gorm:"size:1000" json:"cover"`
	Strategy     string      `gorm:"size:50" json:"strategy"`
	Fingerprint  string      `gorm:"size:128" json:"fingerprint"`
	ScheduledAt  *time.Time  `gorm:"index" json:"scheduled_at"`
	Status       TaskStatus  `gorm:"size:20;not null;index;default:'pending'" json:"status"`
	RetryCount   int         `gorm:"not null;default:0" json:"retry_count"`
	LastError    string      `gorm:"type:text" json:"last_error,omitempty"`
	Source       TaskSource  `gorm:"size:20;not null;default:'queue'" json:"source"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	FinishedAt   *time.Time  `json:"finished_at,omitempty"`
	CreatedAt    time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

// Clone returns a deep copy of t.
func (t *PublishTask) Clone() *PublishTask {
	c := *t
	c.Tags = t.Tags.Clone()
	if t.ScheduledAt != nil {
		v := *t.ScheduledAt
		c.ScheduledAt = &v
	}
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.FinishedAt != nil {
		v := *t.FinishedAt
		c.FinishedAt = &v
	}
	return &c
}

// Due reports whether a scheduled task may be promoted at now.
func (t *PublishTask) Due(now time.Time) bool {
	return t.ScheduledAt == nil || !t.ScheduledAt.After(now)
}

// StatusChange carries the field updates applied together with a status swap.
type StatusChange struct {
	IncrementRetry bool
	// LastError replaces last_error when non-nil; an empty string clears it.
	LastError  *string
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Apply moves t to next and applies change the same way a store does.
func (t *PublishTask) Apply(next TaskStatus, change StatusChange, at time.Time) {
	t.Status = next
	t.Source = SourceFor(next)
	t.UpdatedAt = at
	if change.IncrementRetry {
		t.RetryCount++
	}
	if change.LastError != nil {
		t.LastError = *change.LastError
	}
	if change.StartedAt != nil {
		v := *change.StartedAt
		t.StartedAt = &v
	}
	if change.FinishedAt != nil {
		v := *change.FinishedAt
		t.FinishedAt = &v
	}
}
