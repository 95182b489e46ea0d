package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"pomotick/internal/reconcile"
	"pomotick/internal/storage"
	"pomotick/internal/timer"
)

type taskJSON struct {
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Status         string     `json:"status"`
	ElapsedSeconds int64      `json:"elapsed_seconds"`
	Remaining      string     `json:"remaining,omitempty"`
	Pomodoro       *int       `json:"pomodoro_minutes,omitempty"`
	Break          *int       `json:"break_minutes,omitempty"`
	Execution      *int       `json:"execution_minutes,omitempty"`
	Extra          int        `json:"extra_minutes,omitempty"`
	PomodoroUntil  *time.Time `json:"pomodoro_until,omitempty"`
	Version        int64      `json:"version"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func toJSON(s timer.State, now time.Time) taskJSON {
	out := taskJSON{
		ID:             s.ID,
		Title:          s.Title,
		Status:         string(s.Status),
		ElapsedSeconds: timer.Elapsed(s, now),
		Pomodoro:       s.PomodoroMinutes,
		Break:          s.PomodoroBreakMinutes,
		Execution:      s.ExecutionTimeMinutes,
		Extra:          s.ExtraTimeMinutes,
		PomodoroUntil:  s.PomodoroUntil,
		Version:        s.Version,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
	}
	if left, ok := timer.Remaining(s, now); ok {
		out.Remaining = left.String()
	}
	return out
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fmtSeconds(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

func fmtRemaining(s timer.State, now time.Time) string {
	left, ok := timer.Remaining(s, now)
	if !ok {
		return "-"
	}
	if left <= 0 {
		return "over"
	}
	return left.Truncate(time.Second).String()
}

func renderTaskList(w io.Writer, list []timer.State, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tELAPSED\tREMAINING\tUPDATED\tTITLE")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(s.ID),
			s.Status,
			fmtSeconds(timer.Elapsed(s, now)),
			fmtRemaining(s, now),
			humanize.RelTime(s.UpdatedAt, now, "ago", "from now"),
			s.Title,
		)
	}
	return tw.Flush()
}

func renderTask(w io.Writer, s timer.State, hist []storage.TransitionRecord, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", s.ID)
	fmt.Fprintf(tw, "title:\t%s\n", s.Title)
	fmt.Fprintf(tw, "status:\t%s\n", s.Status)
	fmt.Fprintf(tw, "elapsed:\t%s\n", fmtSeconds(timer.Elapsed(s, now)))
	fmt.Fprintf(tw, "remaining:\t%s\n", fmtRemaining(s, now))
	if s.PomodoroMinutes != nil {
		brk := "default"
		if s.PomodoroBreakMinutes != nil {
			brk = fmt.Sprintf("%dm", *s.PomodoroBreakMinutes)
		}
		fmt.Fprintf(tw, "pomodoro:\t%dm focus / %s break\n", *s.PomodoroMinutes, brk)
	}
	if s.PomodoroUntil != nil {
		fmt.Fprintf(tw, "window ends:\t%s\n", humanize.RelTime(*s.PomodoroUntil, now, "ago", "from now"))
	}
	if s.ExecutionTimeMinutes != nil {
		fmt.Fprintf(tw, "target:\t%dm + %dm extra\n", *s.ExecutionTimeMinutes, s.ExtraTimeMinutes)
	}
	fmt.Fprintf(tw, "created:\t%s\n", humanize.RelTime(s.CreatedAt, now, "ago", "from now"))
	fmt.Fprintf(tw, "updated:\t%s\n", humanize.RelTime(s.UpdatedAt, now, "ago", "from now"))
	if len(hist) > 0 {
		fmt.Fprintln(tw, "history:")
		for _, h := range hist {
			fmt.Fprintf(tw, "  %s\t%s -> %s\t(%s, %s worked)\n",
				humanize.RelTime(h.At, now, "ago", "from now"), h.From, h.To, h.Source, fmtSeconds(h.ElapsedSeconds))
		}
	}
	return tw.Flush()
}

func renderReport(w io.Writer, rep reconcile.Report) {
	fmt.Fprintf(w, "fetched=%d changed=%d saved=%d skipped=%d conflicts=%d took=%s\n",
		rep.Fetched, rep.Changed, rep.Saved, rep.Skipped, len(rep.Conflicts), rep.Took.Truncate(time.Microsecond))
	for _, c := range rep.Transitions {
		fmt.Fprintf(w, "  %s %q: %s -> %s\n", shortID(c.TaskID), c.Title, c.OldStatus, c.NewStatus)
	}
	if len(rep.Conflicts) > 0 {
		fmt.Fprintf(w, "  stale (next pass recomputes): %s\n", strings.Join(rep.Conflicts, ", "))
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
