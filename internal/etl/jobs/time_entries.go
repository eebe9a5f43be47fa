package jobs

import (
	"context"
	"fmt"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

var factTimeEntryCols = []string{
	"time_entry_sesame_id", "project_sesame_id", "time_entry_in",
	"time_entry_out", "tags", "comment", "employee_sesame_id",
}

// TimeEntriesJob syncs project imputations for the window.
func (e *Env) TimeEntriesJob(w sesame.Window) orchestration.JobFunc {
	return instrument("time_entries", func(ctx context.Context, progress func(string)) error {
		return e.runTimeEntries(ctx, w, progress)
	})
}

func (e *Env) runTimeEntries(ctx context.Context, w sesame.Window, progress func(string)) error {
	progress("fetching time entries")
	records, err := e.Sesame.TimeEntries(ctx, w)
	flat, err := e.fetchFlat(ctx, "time-entries", records, err, etl.TimeEntryCols, etl.FlattenTimeEntry)
	if err != nil {
		return fmt.Errorf("fetch time entries: %w", err)
	}

	out := timeEntriesToFact(flat)

	progress("loading Fact_Time_Entry")
	_, err = e.load(ctx, etl.TableSpec{
		Schema: e.Schema,
		Name:   "Fact_Time_Entry",
		Keys:   []string{"time_entry_sesame_id"},
	}, out)
	return err
}

func timeEntriesToFact(flat *etl.Table) *etl.Table {
	out := etl.NewTable(factTimeEntryCols...)
	for _, r := range flat.Rows {
		out.Append(etl.Row{
			"time_entry_sesame_id": r["id"],
			"project_sesame_id":    r["project_id"],
			"time_entry_in":        etl.Timestamp(r["time_entry_in_datetime"]),
			"time_entry_out":       etl.Timestamp(r["time_entry_out_datetime"]),
			"tags":                 r["tags"],
			"comment":              etl.Truncate(etl.Str(r["comment"]), 200),
			"employee_sesame_id":   r["employee_id"],
		})
	}
	return out
}
