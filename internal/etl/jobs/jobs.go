// Package jobs holds the ETL pipelines: each job fetches from the HR
// API and/or reads the warehouse, reshapes the data into its target
// schema and reconciles the result into the warehouse.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/metrics"
	"github.com/salasdw/peoplesync/internal/orchestration"
	"github.com/salasdw/peoplesync/internal/staging"
)

// Fetcher is the slice of the Sesame connector the jobs consume.
type Fetcher interface {
	Employees(ctx context.Context, page int) ([]etl.Record, error)
	DepartmentAssignments(ctx context.Context, page int) ([]etl.Record, error)
	Projects(ctx context.Context, page int) ([]etl.Record, error)
	WorkedHours(ctx context.Context, w sesame.Window) ([]etl.Record, error)
	WorkEntries(ctx context.Context, w sesame.Window) ([]etl.Record, error)
	TimeEntries(ctx context.Context, w sesame.Window) ([]etl.Record, error)
}

// Env bundles the dependencies shared by every job.
type Env struct {
	Sesame Fetcher
	WH     etl.Warehouse
	// Schema is the warehouse schema holding the dimension and fact
	// tables; DatamartSchema holds the derived DM tables.
	Schema         string
	DatamartSchema string
	Archiver       *staging.Archiver
	Log            *slog.Logger
}

func (e *Env) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e *Env) datamartSchema() string {
	if e.DatamartSchema != "" {
		return e.DatamartSchema
	}
	return e.Schema
}

// JobByName resolves a pipeline by the name used in schedules and
// route paths. Jobs that take no window ignore w.
func (e *Env) JobByName(name string, w sesame.Window) (orchestration.JobFunc, error) {
	switch name {
	case "employees":
		return e.EmployeesJob(), nil
	case "projects":
		return e.ProjectsJob(), nil
	case "department_assignments":
		return e.DepartmentAssignmentsJob(), nil
	case "time_entries":
		return e.TimeEntriesJob(w), nil
	case "worked_hours":
		return e.WorkedHoursJob(w), nil
	case "imputations":
		return e.ImputationsJob(w), nil
	case "dm_imputations":
		return e.DMImputationsJob(w), nil
	case "dm_worked_hours":
		return e.DMWorkedHoursJob(w), nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

// instrument wraps a job with run/duration metrics.
func instrument(name string, fn orchestration.JobFunc) orchestration.JobFunc {
	return func(ctx context.Context, progress func(string)) error {
		start := time.Now()
		err := fn(ctx, progress)
		metrics.JobDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		status := "completed"
		if err != nil {
			status = "error"
		}
		metrics.JobRuns.WithLabelValues(name, status).Inc()
		return err
	}
}

// load reconciles one table and records the row metrics.
func (e *Env) load(ctx context.Context, spec etl.TableSpec, t *etl.Table) (etl.LoadResult, error) {
	res, err := etl.Load(ctx, e.WH, spec, t, e.log())
	if err != nil {
		return res, err
	}
	metrics.RowsInserted.WithLabelValues(spec.Name).Add(float64(res.Inserted))
	metrics.RowsUpdated.WithLabelValues(spec.Name).Add(float64(res.Updated))
	return res, nil
}

// fetchFlat fetches one domain and flattens it, archiving the snapshot.
func (e *Env) fetchFlat(ctx context.Context, domain string, records []etl.Record, err error,
	cols []string, fn etl.FlattenFunc) (*etl.Table, error) {
	if err != nil {
		return nil, err
	}
	metrics.RecordsFetched.WithLabelValues(domain).Add(float64(len(records)))
	flat, err := etl.FlattenAll(records, cols, fn, e.log())
	if err != nil {
		return nil, err
	}
	if skipped := len(records) - flat.Len(); skipped > 0 {
		metrics.MalformedRecords.WithLabelValues(domain).Add(float64(skipped))
	}
	if e.Archiver != nil {
		e.Archiver.ArchiveTable(ctx, domain, flat)
	}
	return flat, nil
}

// asTime normalizes warehouse or flat-table timestamp values.
func asTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	default:
		if ts := etl.Timestamp(v); ts != nil {
			return ts.(time.Time)
		}
		return time.Time{}
	}
}

// eachDay iterates the inclusive day range of the window.
func eachDay(w sesame.Window, fn func(i, total int, day time.Time) error) error {
	from := w.From.UTC().Truncate(24 * time.Hour)
	to := w.To.UTC().Truncate(24 * time.Hour)
	total := int(to.Sub(from).Hours()/24) + 1
	for i, day := 0, from; !day.After(to); i, day = i+1, day.AddDate(0, 0, 1) {
		if err := fn(i, total, day); err != nil {
			return err
		}
	}
	return nil
}
