// Package sesame is the connector for the Sesame HR API. All list
// endpoints are paginated and scoped to a single account token, so the
// client fans out over every configured account and concatenates the
// results in account order.
package sesame

import (
	"context"
	"fmt"
	"log/slog"
	stdhttp "net/http"
	"net/url"
	"time"

	"github.com/salasdw/peoplesync/internal/connector/http"
	"github.com/salasdw/peoplesync/internal/etl"
)

const (
	employeesPath             = "/core/v3/employees"
	infoPath                  = "/core/v3/info"
	departmentAssignmentsPath = "/core/v3/department-assignations"
	workedHoursPath           = "/schedule/v1/reports/worked-hours"
	workEntriesPath           = "/schedule/v1/work-entries"
	timeEntriesPath           = "/project/v1/time-entries"
	projectsPath              = "/project/v1/projects"

	defaultPageSize = 100
)

// Account identifies one Sesame company account and its API token.
type Account struct {
	Name  string `yaml:"name"`
	Token string `yaml:"token"`
}

// Config configures the connector.
type Config struct {
	BaseURL     string
	Accounts    []Account
	PageSize    int
	MaxAttempts int
	RateLimit   float64
	Timeout     time.Duration

	// Transport and Sleep are injected by tests.
	Transport stdhttp.RoundTripper
	Sleep     func(ctx context.Context, d time.Duration) error
}

// Client talks to the Sesame API on behalf of all configured accounts.
type Client struct {
	accounts []accountClient
	pageSize int
	log      *slog.Logger
}

type accountClient struct {
	name string
	http *http.Client
}

// NewClient builds one rate-limited HTTP client per account.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = defaultPageSize
	}

	accounts := make([]accountClient, 0, len(cfg.Accounts))
	for _, acc := range cfg.Accounts {
		hc := http.DefaultClientConfig()
		hc.BaseURL = cfg.BaseURL
		hc.Auth = http.BearerToken{Token: acc.Token}
		if cfg.MaxAttempts != 0 {
			hc.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.RateLimit != 0 {
			hc.RateLimit = cfg.RateLimit
		}
		if cfg.Timeout != 0 {
			hc.Timeout = cfg.Timeout
		}
		if cfg.Sleep != nil {
			hc.Sleep = cfg.Sleep
		}
		hc.Transport = cfg.Transport
		accounts = append(accounts, accountClient{
			name: acc.Name,
			http: http.NewClient(hc, log.With("account", acc.Name)),
		})
	}

	return &Client{accounts: accounts, pageSize: pageSize, log: log}
}

// Employee statuses the upstream filters on. Listing without the
// filter returns active employees only, so every employee fetch asks
// for both.
var employeeStatuses = []string{"active", "inactive"}

// Window is an inclusive date window, formatted YYYY-MM-DD on the
// wire. A positive Page requests exactly that result page instead of
// draining the endpoint.
type Window struct {
	From time.Time
	To   time.Time
	Page int
}

func (w Window) query() url.Values {
	q := url.Values{}
	if !w.From.IsZero() {
		q.Set("from", w.From.Format("2006-01-02"))
	}
	if !w.To.IsZero() {
		q.Set("to", w.To.Format("2006-01-02"))
	}
	return q
}

// fetchAll drains one paginated endpoint across every account. A
// positive page fetches exactly that page per account instead.
func (c *Client) fetchAll(ctx context.Context, path string, page int, query url.Values) ([]etl.Record, error) {
	var all []etl.Record
	for _, acc := range c.accounts {
		p := http.NewPagePaginator(path, c.pageSize, query)
		var (
			records []etl.Record
			err     error
		)
		if page > 0 {
			records, err = http.FetchOnePage(ctx, acc.http, p.Seek(page), parseRecords)
		} else {
			records, err = http.FetchAllPages(ctx, acc.http, p, parseRecords)
		}
		if err != nil {
			return nil, fmt.Errorf("account %s: %s: %w", acc.name, path, err)
		}
		c.log.Info("fetched records", "account", acc.name, "path", path, "count", len(records))
		all = append(all, records...)
	}
	return all, nil
}

func parseRecords(resp *http.Response) ([]etl.Record, error) {
	var envelope struct {
		Data []etl.Record `json:"data"`
	}
	if err := resp.JSON(&envelope); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}
	return envelope.Data, nil
}

// Employees lists active then inactive employees of every account. A
// positive page fetches only that page of each status.
func (c *Client) Employees(ctx context.Context, page int) ([]etl.Record, error) {
	var all []etl.Record
	for _, status := range employeeStatuses {
		q := url.Values{"status": {status}}
		records, err := c.fetchAll(ctx, employeesPath, page, q)
		if err != nil {
			return nil, err
		}
		all = append(all, records...)
	}
	return all, nil
}

// DepartmentAssignments lists employee-to-department assignments.
func (c *Client) DepartmentAssignments(ctx context.Context, page int) ([]etl.Record, error) {
	return c.fetchAll(ctx, departmentAssignmentsPath, page, nil)
}

// Projects lists projects.
func (c *Client) Projects(ctx context.Context, page int) ([]etl.Record, error) {
	return c.fetchAll(ctx, projectsPath, page, nil)
}

// WorkedHours returns the per-employee worked-hours report for the
// window.
func (c *Client) WorkedHours(ctx context.Context, w Window) ([]etl.Record, error) {
	return c.fetchAll(ctx, workedHoursPath, w.Page, w.query())
}

// WorkEntries returns clock-in/clock-out entries for the window.
func (c *Client) WorkEntries(ctx context.Context, w Window) ([]etl.Record, error) {
	return c.fetchAll(ctx, workEntriesPath, w.Page, w.query())
}

// TimeEntries returns project time imputations for the window.
func (c *Client) TimeEntries(ctx context.Context, w Window) ([]etl.Record, error) {
	return c.fetchAll(ctx, timeEntriesPath, w.Page, w.query())
}

// Info returns the account metadata for each configured account, keyed
// by account name. It is a single-page endpoint.
func (c *Client) Info(ctx context.Context) (map[string]etl.Record, error) {
	out := make(map[string]etl.Record, len(c.accounts))
	for _, acc := range c.accounts {
		resp, err := acc.http.Get(ctx, infoPath, nil)
		if err != nil {
			return nil, fmt.Errorf("account %s: info: %w", acc.name, err)
		}
		var envelope struct {
			Data etl.Record `json:"data"`
		}
		if err := resp.JSON(&envelope); err != nil {
			return nil, fmt.Errorf("account %s: decode info: %w", acc.name, err)
		}
		out[acc.name] = envelope.Data
	}
	return out, nil
}
