package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

var factWorkedHoursCols = []string{
	"employee_sesame_id", "date", "worked_time", "to_work_time",
}

// WorkedHoursJob syncs the per-employee daily hours fact for the
// window. Times are stored as whole seconds.
func (e *Env) WorkedHoursJob(w sesame.Window) orchestration.JobFunc {
	return instrument("worked_hours", func(ctx context.Context, progress func(string)) error {
		daily, err := e.fetchWorkedHours(ctx, w, progress)
		if err != nil {
			return err
		}

		out := etl.NewTable(factWorkedHoursCols...)
		for _, r := range daily.Rows {
			out.Append(etl.Row{
				"employee_sesame_id": r["employeeId"],
				"date":               r["date"],
				"worked_time":        r["secondsWorked"],
				"to_work_time":       r["secondsToWork"],
			})
		}

		progress("loading Fact_Worked_Hours")
		_, err = e.load(ctx, etl.TableSpec{
			Schema: e.Schema,
			Name:   "Fact_Worked_Hours",
			Keys:   []string{"employee_sesame_id", "date"},
		}, out)
		return err
	})
}

// fetchWorkedHours pulls the worked-hours report one day at a time:
// the upstream report collapses multi-day windows, so each day is
// fetched alone and tagged with its date, then totals are summed per
// employee and day.
func (e *Env) fetchWorkedHours(ctx context.Context, w sesame.Window, progress func(string)) (*etl.Table, error) {
	cols := append(append([]string{}, etl.WorkedHoursCols...), "date")
	all := etl.NewTable(cols...)

	err := eachDay(w, func(i, total int, day time.Time) error {
		dayWindow := sesame.Window{From: day, To: day}
		records, err := e.Sesame.WorkedHours(ctx, dayWindow)
		flat, err := e.fetchFlat(ctx, "worked-hours", records, err, etl.WorkedHoursCols, etl.FlattenWorkedHours)
		if err != nil {
			return fmt.Errorf("fetch worked hours %s: %w", day.Format("2006-01-02"), err)
		}
		for _, r := range flat.Rows {
			nr := make(etl.Row, len(r)+1)
			for c, v := range r {
				nr[c] = v
			}
			nr["date"] = day
			all.Append(nr)
		}
		progress(fmt.Sprintf("worked hours %.2f%% - %s",
			float64(i+1)/float64(total)*100, day.Format("2006-01-02")))
		return nil
	})
	if err != nil {
		return nil, err
	}

	return etl.GroupSum(all, []string{"employeeId", "date"},
		"secondsWorked", "secondsToWork", "secondsBalance"), nil
}
