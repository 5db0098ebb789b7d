package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/menulens/internal/models"
)

const defaultTitle = "Uploaded Menu"

type rawMenuItem struct {
	ID          string   `json:"id"`
	ItemName    string   `json:"item_name"`
	Name        string   `json:"name"`
	Description *string  `json:"description"`
	Price       *float64 `json:"price"`
	Currency    *string  `json:"currency"`
	OrderIndex  *int     `json:"order_index"`
	Images      []string `json:"images"`
}

type rawMenu struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Status      string        `json:"status"`
	ProcessedAt string        `json:"processed_at"`
	Items       []rawMenuItem `json:"items"`
}

// toResultSet normalizes a persisted menu into a ResultSet
func toResultSet(raw rawMenu, now time.Time) *models.ResultSet {
	rs := &models.ResultSet{
		ID:          raw.ID,
		Title:       firstNonEmpty(raw.Name, raw.Title, defaultTitle),
		Status:      models.JobStatusCompleted,
		ProcessedAt: now,
		Records:     make([]models.Record, 0, len(raw.Items)),
	}
	if status := models.JobStatus(strings.ToLower(raw.Status)); status != "" {
		rs.Status = status
	}
	if raw.ProcessedAt != "" {
		if t, err := parseTimestamp(raw.ProcessedAt); err == nil {
			rs.ProcessedAt = t
		}
	}

	for i, item := range raw.Items {
		rec := models.Record{
			ID:          item.ID,
			Name:        firstNonEmpty(item.ItemName, item.Name, fmt.Sprintf("Menu Item %d", i+1)),
			Price:       item.Price,
			OrderIndex:  i,
			Media:       append([]string{}, item.Images...),
			MediaStatus: models.MediaStatusLoading,
		}
		if item.Description != nil {
			rec.Description = *item.Description
		}
		if item.Currency != nil {
			rec.Currency = *item.Currency
		}
		if item.OrderIndex != nil {
			rec.OrderIndex = *item.OrderIndex
		}
		if len(rec.Media) > 0 {
			rec.MediaStatus = models.MediaStatusReady
		}
		rs.Records = append(rs.Records, rec)
	}
	return rs
}

func toRecentJob(raw rawMenu) models.RecentJob {
	job := models.RecentJob{
		JobID: raw.ID,
		Title: firstNonEmpty(raw.Name, raw.Title, defaultTitle),
	}
	if t, err := parseTimestamp(raw.ProcessedAt); err == nil {
		job.CompletedAt = t
	}
	return job
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
