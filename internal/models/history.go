package models

import "time"

// PublishHistoryRecord is appended once per task that reaches success.
type PublishHistoryRecord struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    string    `gorm:"not null;size:255;index:idx_history_lookup,priority:1" json:"account_id"`
	PlatformCode string    `gorm:"not null;size:100;index:idx_history_lookup,priority:2" json:"platform_code"`
	Fingerprint  string    `gorm:"not null;size:128;index:idx_history_lookup,priority:3" json:"fingerprint"`
	TaskID       string    `gorm:"size:64" json:"task_id"`
	PublishedAt  time.Time `gorm:"not null;index" json:"published_at"`
}

func (PublishHistoryRecord) TableName() string {
	return "publish_history"
}
