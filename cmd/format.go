package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sells-group/lead-qualifier/internal/aggregate"
	"github.com/sells-group/lead-qualifier/internal/model"
	"github.com/sells-group/lead-qualifier/internal/score"
)

const timeLayout = "2006-01-02 15:04"

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeLayout)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// formatJobsList writes a table of jobs to w.
func formatJobsList(w io.Writer, list []model.BatchJob) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tSTATUS\tFETCHED\tPROCESSED\tCREATED\tERROR")
	for _, j := range list {
		errMsg := "-"
		if j.ErrorMessage != nil {
			errMsg = truncate(*j.ErrorMessage, 50)
		}
		created := j.CreatedAt
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			shortID(j.ID), j.Source, j.Status, j.RecordsFetched, j.RecordsProcessed,
			fmtTime(&created), errMsg)
	}
	_ = tw.Flush()
}

// formatAudit writes a job's filter decisions to w.
func formatAudit(w io.Writer, recs []model.AuditRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "COMPANY\tFILTER\tBLOCKED\tAT")
	for _, r := range recs {
		at := r.CreatedAt
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", truncate(r.CompanyName, 40), r.FilterType, r.Blocked, fmtTime(&at))
	}
	_ = tw.Flush()
}

// formatAggregate writes an aggregation result to w.
func formatAggregate(w io.Writer, r *aggregate.Result) {
	fmt.Fprintf(w, "Entity:  %s\n", r.EntityID)
	fmt.Fprintf(w, "Status:  %s\n", r.OverallStatus)
	fmt.Fprintf(w, "Score:   %d\n", r.Score)
	fmt.Fprintf(w, "Passed:  %v\n", r.PassedChecks)
	fmt.Fprintf(w, "Failed:  %v\n", r.FailedChecks)
	for _, n := range r.FilterNotes {
		fmt.Fprintf(w, "  - %s\n", n)
	}
}

// formatBreakdown writes a score breakdown to w.
func formatBreakdown(w io.Writer, name string, b score.Breakdown) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Entity:\t%s\n", name)
	fmt.Fprintf(tw, "Completeness:\t%.1f\n", b.Completeness)
	fmt.Fprintf(tw, "Status:\t%d\n", b.Status)
	fmt.Fprintf(tw, "Website:\t%d\n", b.Website)
	fmt.Fprintf(tw, "Recency:\t%d\n", b.Recency)
	fmt.Fprintf(tw, "Total:\t%d\n", b.Total)
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
