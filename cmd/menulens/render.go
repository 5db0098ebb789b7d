package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ternarybob/menulens/internal/interfaces"
	"github.com/ternarybob/menulens/internal/models"
	"github.com/ternarybob/menulens/internal/services/events"
	"github.com/ternarybob/menulens/internal/transport"
)

// renderer prints progress lines, skipping repeats of the line it printed last
type renderer struct {
	out io.Writer

	mu       sync.Mutex
	lastLine string
	ready    map[string]bool
}

func subscribeRenderer(svc interfaces.EventService) error {
	r := &renderer{out: os.Stdout, ready: make(map[string]bool)}
	if err := events.OnJobProgress(svc, r.onProgress); err != nil {
		return err
	}
	if err := events.OnResultUpdated(svc, r.onResult); err != nil {
		return err
	}
	return events.OnChannelState(svc, r.onChannelState)
}

func (r *renderer) onProgress(_ context.Context, job models.Job) error {
	r.print(progressLine(job))
	return nil
}

func (r *renderer) onResult(_ context.Context, rs *models.ResultSet) error {
	for _, rec := range rs.Records {
		r.mu.Lock()
		seen := r.ready[rec.ID]
		if rec.MediaStatus.IsResolved() {
			r.ready[rec.ID] = true
		}
		r.mu.Unlock()
		if !seen && rec.MediaStatus.IsResolved() {
			r.print(fmt.Sprintf("  + %s: %d image(s)", rec.Name, len(rec.Media)))
		}
	}
	return nil
}

func (r *renderer) onChannelState(_ context.Context, payload interfaces.ChannelStatePayload) error {
	if payload.State == transport.StateFailed {
		r.print(fmt.Sprintf("  (live updates stopped: %s)", payload.Error))
		return nil
	}
	r.print(fmt.Sprintf("  (live updates: %s)", payload.State))
	return nil
}

func (r *renderer) print(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if line == r.lastLine {
		return
	}
	r.lastLine = line
	fmt.Fprintln(r.out, line)
}

func progressLine(job models.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%3.0f%%] %s", job.Percent, models.StageDescription(job.Stage))
	if job.Message.Text != "" {
		fmt.Fprintf(&b, " %s", job.Message.Text)
	}
	if job.ItemCount > 0 {
		fmt.Fprintf(&b, " (%d items)", job.ItemCount)
	}
	if !job.Status.IsTerminal() && job.ETASeconds > 0 {
		fmt.Fprintf(&b, " - %s left", models.FormatETA(job.ETASeconds))
	}
	return b.String()
}

func printRecent(jobs []models.RecentJob) {
	if len(jobs) == 0 {
		fmt.Println("No recent menus.")
		return
	}
	fmt.Println("Recent menus:")
	for _, j := range jobs {
		when := ""
		if !j.CompletedAt.IsZero() {
			when = j.CompletedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Printf("  %-36s  %-30s  %s\n", j.JobID, j.Title, when)
	}
}

func printResult(rs *models.ResultSet) {
	if rs == nil {
		fmt.Println("No result.")
		return
	}
	fmt.Printf("\n%s (%s, %d items)\n", rs.Title, rs.Status, len(rs.Records))
	for _, rec := range rs.Records {
		price := ""
		if rec.Price != nil {
			price = strings.TrimSpace(fmt.Sprintf("%s %.2f", rec.Currency, *rec.Price))
		}
		fmt.Printf("  %2d. %-40s %s\n", rec.OrderIndex+1, rec.Name, price)
		if len(rec.Media) > 0 {
			sel := rec.SelectedMediaIndex
			if sel < 0 || sel >= len(rec.Media) {
				sel = 0
			}
			label := ""
			if sel < len(rec.MediaSources) {
				label = " [" + rec.MediaSources[sel].Describe() + "]"
			}
			fmt.Printf("      %s%s\n", rec.Media[sel], label)
		}
	}
}
