// Package server exposes the ETL pipelines over HTTP: run endpoints
// that submit background tasks, status polling, CSV pass-through of
// the upstream HR data, metrics and liveness.
package server

import (
	"bytes"
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/etl/jobs"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

const taskStartedMessage = "The ETL process has been initiated. Use the task_id to check the status."

// DateRangeError reports an invalid from_date/to_date pair. The run
// endpoints reject the request before any task is created.
type DateRangeError struct {
	Detail string
}

func (e *DateRangeError) Error() string { return e.Detail }

// JobSet is the pipeline catalogue the server can launch. *jobs.Env
// implements it.
type JobSet interface {
	EmployeesJob() orchestration.JobFunc
	ProjectsJob() orchestration.JobFunc
	DepartmentAssignmentsJob() orchestration.JobFunc
	TimeEntriesJob(w sesame.Window) orchestration.JobFunc
	WorkedHoursJob(w sesame.Window) orchestration.JobFunc
	ImputationsJob(w sesame.Window) orchestration.JobFunc
	DMImputationsJob(w sesame.Window) orchestration.JobFunc
	DMWorkedHoursJob(w sesame.Window) orchestration.JobFunc
}

// Config wires the server's collaborators.
type Config struct {
	Jobs    JobSet
	Tasks   *orchestration.Manager
	Fetcher jobs.Fetcher
	// APISecret is the static bearer token callers must present.
	APISecret string
	Log       *slog.Logger
}

type Server struct {
	jobs    JobSet
	tasks   *orchestration.Manager
	fetcher jobs.Fetcher
	secret  string
	log     *slog.Logger
}

func New(cfg Config) *Server {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		jobs:    cfg.Jobs,
		tasks:   cfg.Tasks,
		fetcher: cfg.Fetcher,
		secret:  cfg.APISecret,
		log:     log,
	}
}

// Router builds the full route table.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(s.logRequests(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	etlg := r.Group("/etl-processes", s.requireBearer())
	s.registerRun(etlg, "run-etl-employees", s.runPlain("employees", s.jobs.EmployeesJob))
	s.registerRun(etlg, "run-etl-projects", s.runPlain("projects", s.jobs.ProjectsJob))
	s.registerRun(etlg, "run-etl-department-assignation", s.runPlain("department_assignments", s.jobs.DepartmentAssignmentsJob))
	s.registerRun(etlg, "run-etl-time-entries", s.runWindowed("time_entries", s.jobs.TimeEntriesJob))
	s.registerRun(etlg, "run-etl-worked-hours", s.runWindowed("worked_hours", s.jobs.WorkedHoursJob))
	s.registerRun(etlg, "run-etl-imputations", s.runWindowed("imputations", s.jobs.ImputationsJob))
	s.registerRun(etlg, "run-etl-dm-imputations", s.runWindowed("dm_imputations", s.jobs.DMImputationsJob))
	s.registerRun(etlg, "run-etl-dm-worked-hours", s.runWindowed("dm_worked_hours", s.jobs.DMWorkedHoursJob))

	csv := r.Group("/sesame", s.requireBearer())
	csv.GET("/employees-csv", s.csvPlain("employees", etl.EmployeeCols, etl.FlattenEmployee, s.fetcher.Employees))
	csv.GET("/projects-csv", s.csvPlain("projects", etl.ProjectCols, etl.FlattenProject, s.fetcher.Projects))
	csv.GET("/department-assignations-csv", s.csvPlain("department-assignments",
		etl.DepartmentAssignmentCols, etl.FlattenDepartmentAssignment, s.fetcher.DepartmentAssignments))
	csv.GET("/work-entries-csv", s.csvWindowed("work-entries", etl.WorkEntryCols, etl.FlattenWorkEntry, s.fetcher.WorkEntries))
	csv.GET("/time-entries-csv", s.csvWindowed("time-entries", etl.TimeEntryCols, etl.FlattenTimeEntry, s.fetcher.TimeEntries))
	csv.GET("/worked-hours-csv", s.csvWindowed("worked-hours", etl.WorkedHoursCols, etl.FlattenWorkedHours, s.fetcher.WorkedHours))

	return r
}

// registerRun mounts a run endpoint and its status sibling.
func (s *Server) registerRun(g *gin.RouterGroup, path string, run gin.HandlerFunc) {
	g.GET("/"+path, run)
	g.GET("/"+path+"/status/:task_id", s.taskStatus)
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.secret)) != 1 {
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "invalid credentials"})
			return
		}
		c.Next()
	}
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

// parseWindow validates from_date/to_date query parameters.
func parseWindow(c *gin.Context) (sesame.Window, error) {
	parse := func(name string) (time.Time, error) {
		raw := c.Query(name)
		d, err := time.ParseInLocation("2006-01-02", raw, time.UTC)
		if err != nil {
			return time.Time{}, &DateRangeError{
				Detail: fmt.Sprintf("invalid %s %q: use YYYY-MM-DD", name, raw),
			}
		}
		return d, nil
	}
	from, err := parse("from_date")
	if err != nil {
		return sesame.Window{}, err
	}
	to, err := parse("to_date")
	if err != nil {
		return sesame.Window{}, err
	}
	if from.After(to) {
		return sesame.Window{}, &DateRangeError{Detail: "from_date must not be after to_date"}
	}
	return sesame.Window{From: from, To: to}, nil
}

// parsePage validates the optional page query parameter. Zero means
// every page.
func parsePage(c *gin.Context) (int, error) {
	raw := c.Query("page")
	if raw == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 {
		return 0, fmt.Errorf("invalid page %q: use a positive integer", raw)
	}
	return page, nil
}

func (s *Server) submit(c *gin.Context, name string, fn orchestration.JobFunc) {
	id := s.tasks.Submit(name, fn)
	c.JSON(http.StatusAccepted, gin.H{
		"task_id": id,
		"status":  string(orchestration.StatusInProgress),
		"message": taskStartedMessage,
	})
}

func (s *Server) runPlain(name string, fn func() orchestration.JobFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		s.submit(c, name, fn())
	}
}

func (s *Server) runWindowed(name string, fn func(sesame.Window) orchestration.JobFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := parseWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		s.submit(c, name, fn(w))
	}
}

func (s *Server) taskStatus(c *gin.Context) {
	task, err := s.tasks.Status(c.Param("task_id"))
	if err != nil {
		if errors.Is(err, orchestration.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "unknown task_id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, task)
}

// writeCSV flattens the records and streams them as a CSV download.
// Malformed records are dropped the same way the ETL jobs drop them.
func (s *Server) writeCSV(c *gin.Context, domain string, records []etl.Record, err error,
	cols []string, fn etl.FlattenFunc) {
	if err != nil {
		s.log.Error("csv export fetch failed", "domain", domain, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"detail": fmt.Sprintf("fetch %s: %v", domain, err)})
		return
	}
	flat, err := etl.FlattenAll(records, cols, fn, s.log)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	var buf bytes.Buffer
	if err := flat.WriteCSV(&buf); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", domain))
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (s *Server) csvPlain(domain string, cols []string, fn etl.FlattenFunc,
	fetch func(ctx context.Context, page int) ([]etl.Record, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := parsePage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		records, err := fetch(c.Request.Context(), page)
		s.writeCSV(c, domain, records, err, cols, fn)
	}
}

func (s *Server) csvWindowed(domain string, cols []string, fn etl.FlattenFunc,
	fetch func(ctx context.Context, w sesame.Window) ([]etl.Record, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		w, err := parseWindow(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		w.Page, err = parsePage(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
			return
		}
		records, err := fetch(c.Request.Context(), w)
		s.writeCSV(c, domain, records, err, cols, fn)
	}
}
