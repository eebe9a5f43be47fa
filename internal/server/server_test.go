package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salasdw/peoplesync/internal/connector/sesame"
	"github.com/salasdw/peoplesync/internal/etl"
	"github.com/salasdw/peoplesync/internal/orchestration"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "s3cret"

// stubJobs counts runs and records the last window it was handed.
type stubJobs struct {
	runs       atomic.Int64
	lastWindow sesame.Window
	fail       bool
}

func (s *stubJobs) job() orchestration.JobFunc {
	return func(ctx context.Context, progress func(string)) error {
		s.runs.Add(1)
		if s.fail {
			return errors.New("upstream down")
		}
		return nil
	}
}

func (s *stubJobs) windowed(w sesame.Window) orchestration.JobFunc {
	s.lastWindow = w
	return s.job()
}

func (s *stubJobs) EmployeesJob() orchestration.JobFunc             { return s.job() }
func (s *stubJobs) ProjectsJob() orchestration.JobFunc              { return s.job() }
func (s *stubJobs) DepartmentAssignmentsJob() orchestration.JobFunc { return s.job() }
func (s *stubJobs) TimeEntriesJob(w sesame.Window) orchestration.JobFunc {
	return s.windowed(w)
}
func (s *stubJobs) WorkedHoursJob(w sesame.Window) orchestration.JobFunc {
	return s.windowed(w)
}
func (s *stubJobs) ImputationsJob(w sesame.Window) orchestration.JobFunc {
	return s.windowed(w)
}
func (s *stubJobs) DMImputationsJob(w sesame.Window) orchestration.JobFunc {
	return s.windowed(w)
}
func (s *stubJobs) DMWorkedHoursJob(w sesame.Window) orchestration.JobFunc {
	return s.windowed(w)
}

// stubFetcher serves a fixed record set to the CSV endpoints.
type stubFetcher struct {
	lastWindow sesame.Window
	lastPage   int
}

func (s *stubFetcher) Employees(ctx context.Context, page int) ([]etl.Record, error) {
	s.lastPage = page
	return []etl.Record{
		{"id": "emp-1", "firstName": "Marta", "lastName": "Serra"},
	}, nil
}

func (s *stubFetcher) DepartmentAssignments(ctx context.Context, page int) ([]etl.Record, error) {
	return nil, nil
}

func (s *stubFetcher) Projects(ctx context.Context, page int) ([]etl.Record, error) {
	return nil, nil
}

func (s *stubFetcher) WorkedHours(ctx context.Context, w sesame.Window) ([]etl.Record, error) {
	s.lastWindow = w
	return []etl.Record{{"employeeId": "emp-1", "secondsWorked": float64(3600)}}, nil
}

func (s *stubFetcher) WorkEntries(ctx context.Context, w sesame.Window) ([]etl.Record, error) {
	return nil, nil
}

func (s *stubFetcher) TimeEntries(ctx context.Context, w sesame.Window) ([]etl.Record, error) {
	return nil, nil
}

func newTestServer(t *testing.T) (*Server, *stubJobs, *stubFetcher) {
	t.Helper()
	jobs := &stubJobs{}
	fetcher := &stubFetcher{}
	srv := New(Config{
		Jobs:      jobs,
		Tasks:     orchestration.NewManager(slog.Default()),
		Fetcher:   fetcher,
		APISecret: testSecret,
		Log:       slog.Default(),
	})
	return srv, jobs, fetcher
}

func doRequest(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRunRejectsMissingBearer(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/etl-processes/run-etl-employees", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	rec = doRequest(r, http.MethodGet, "/etl-processes/run-etl-employees", "wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, int64(0), jobs.runs.Load())
}

func TestRunWindowedValidatesDates(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	r := srv.Router()

	cases := []string{
		"/etl-processes/run-etl-imputations",
		"/etl-processes/run-etl-imputations?from_date=2024-05-01",
		"/etl-processes/run-etl-imputations?from_date=01/05/2024&to_date=2024-05-02",
		"/etl-processes/run-etl-imputations?from_date=2024-05-02&to_date=2024-05-01",
	}
	for _, path := range cases {
		rec := doRequest(r, http.MethodGet, path, testSecret)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	// No task is created for a rejected request.
	assert.Equal(t, int64(0), jobs.runs.Load())
}

func TestRunSubmitsTaskAndStatusCompletes(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet,
		"/etl-processes/run-etl-worked-hours?from_date=2024-05-01&to_date=2024-05-03", testSecret)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		TaskID  string `json:"task_id"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.TaskID)
	assert.Equal(t, "in_progress", resp.Status)
	assert.Contains(t, resp.Message, "task_id")
	assert.Equal(t, "2024-05-01", jobs.lastWindow.From.Format("2006-01-02"))
	assert.Equal(t, "2024-05-03", jobs.lastWindow.To.Format("2006-01-02"))

	statusPath := "/etl-processes/run-etl-worked-hours/status/" + resp.TaskID
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(r, http.MethodGet, statusPath, testSecret)
		require.Equal(t, http.StatusOK, rec.Code)
		var task orchestration.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		if task.Status != orchestration.StatusInProgress {
			assert.Equal(t, orchestration.StatusCompleted, task.Status)
			break
		}
		require.True(t, time.Now().Before(deadline), "task never finished")
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int64(1), jobs.runs.Load())
}

func TestFailedJobReportedThroughStatus(t *testing.T) {
	srv, jobs, _ := newTestServer(t)
	jobs.fail = true
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/etl-processes/run-etl-employees", testSecret)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp struct {
		TaskID string `json:"task_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	statusPath := "/etl-processes/run-etl-employees/status/" + resp.TaskID
	deadline := time.Now().Add(2 * time.Second)
	for {
		rec = doRequest(r, http.MethodGet, statusPath, testSecret)
		var task orchestration.Task
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &task))
		if task.Status != orchestration.StatusInProgress {
			assert.Equal(t, orchestration.StatusError, task.Status)
			assert.Equal(t, "upstream down", task.Message)
			return
		}
		require.True(t, time.Now().Before(deadline), "task never finished")
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/etl-processes/run-etl-employees/status/nope", testSecret)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmployeesCSVExport(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/sesame/employees-csv", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "employees.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, strings.Join(etl.EmployeeCols, ","), strings.TrimSpace(lines[0]))
	assert.Contains(t, lines[1], "emp-1")
	assert.Contains(t, lines[1], "Marta")
}

func TestCSVSinglePageForwarded(t *testing.T) {
	srv, _, fetcher := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/sesame/employees-csv?page=2", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, fetcher.lastPage)

	rec = doRequest(r, http.MethodGet, "/sesame/employees-csv", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, fetcher.lastPage)

	rec = doRequest(r, http.MethodGet,
		"/sesame/worked-hours-csv?from_date=2024-05-01&to_date=2024-05-02&page=3", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, fetcher.lastWindow.Page)
}

func TestCSVRejectsBadPage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := srv.Router()

	for _, page := range []string{"zero", "0", "-1"} {
		rec := doRequest(r, http.MethodGet, "/sesame/employees-csv?page="+page, testSecret)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "page=%s", page)
	}
}

func TestWorkedHoursCSVRequiresWindow(t *testing.T) {
	srv, _, fetcher := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/sesame/worked-hours-csv", testSecret)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(r, http.MethodGet,
		"/sesame/worked-hours-csv?from_date=2024-05-01&to_date=2024-05-01", testSecret)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-05-01", fetcher.lastWindow.From.Format("2006-01-02"))
	assert.Contains(t, rec.Body.String(), "emp-1")
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := srv.Router()

	rec := doRequest(r, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
