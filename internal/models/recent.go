package models

import "time"

// RecentJob is an entry of the recent-job cache
type RecentJob struct {
	JobID       string    `json:"job_id"`
	Title       string    `json:"title"`
	CompletedAt time.Time `json:"completed_at"`
}
