package etl

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
)

// Status is the terminal state of one entity load.
type Status string

const (
	// StatusSuccess means the collection was fetched and persisted.
	StatusSuccess Status = "success"
	// StatusEmpty means the collection had no items; nothing was written.
	StatusEmpty Status = "empty"
	// StatusFailed means fetch or persist failed; Err carries the cause.
	StatusFailed Status = "failed"
	// StatusSkipped means an ancestor failed and the dependent policy
	// kept this entity from running.
	StatusSkipped Status = "skipped"
)

// LoadResult describes the outcome of loading one entity.
type LoadResult struct {
	Entity      string
	Table       string
	Status      Status
	RowsWritten int64
	Duration    time.Duration
	Err         error
}

// MarshalJSON flattens the result for the CLI's --json output.
func (r LoadResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Entity      string `json:"entity"`
		Table       string `json:"table,omitempty"`
		Status      Status `json:"status"`
		RowsWritten int64  `json:"rows_written"`
		DurationMS  int64  `json:"duration_ms"`
		Error       string `json:"error,omitempty"`
	}{
		Entity:      r.Entity,
		Table:       r.Table,
		Status:      r.Status,
		RowsWritten: r.RowsWritten,
		DurationMS:  r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// Report aggregates every entity outcome of one run.
type Report struct {
	Results  []LoadResult `json:"results"`
	Started  time.Time    `json:"started"`
	Finished time.Time    `json:"finished"`
}

// Add appends a result.
func (r *Report) Add(res LoadResult) {
	r.Results = append(r.Results, res)
}

// TotalRows sums the rows written across all entities.
func (r *Report) TotalRows() int64 {
	var total int64
	for _, res := range r.Results {
		total += res.RowsWritten
	}
	return total
}

// HasFailures reports whether any entity failed. Empty and skipped do
// not count.
func (r *Report) HasFailures() bool {
	for _, res := range r.Results {
		if res.Status == StatusFailed {
			return true
		}
	}
	return false
}

// CountByStatus tallies results per terminal status.
func (r *Report) CountByStatus() map[Status]int {
	counts := make(map[Status]int, 4)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Render writes the report as an aligned text table followed by a
// one-line summary.
func (r *Report) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ENTITY\tTABLE\tSTATUS\tROWS\tDURATION\tERROR")
	for _, res := range r.Results {
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		table := res.Table
		if table == "" {
			table = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			res.Entity, table, res.Status, res.RowsWritten,
			res.Duration.Round(time.Millisecond), errMsg)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	counts := r.CountByStatus()
	_, err := fmt.Fprintf(w, "\n%d rows written, %d succeeded, %d empty, %d failed, %d skipped in %s\n",
		r.TotalRows(),
		counts[StatusSuccess], counts[StatusEmpty], counts[StatusFailed], counts[StatusSkipped],
		r.Finished.Sub(r.Started).Round(time.Millisecond))
	return err
}
