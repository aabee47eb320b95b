// Package todoist implements a task source over the Todoist REST v2 API.
// Fetch returns active tasks due today or overdue, the working set the
// pipeline is meant to clear.
package todoist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/espalier/pkg/domain"
)

// DefaultBaseURL is the Todoist REST v2 endpoint.
const DefaultBaseURL = "https://api.todoist.com/rest/v2"

// DefaultTimeout bounds one API exchange.
const DefaultTimeout = 30 * time.Second

// Config configures the source.
type Config struct {
	// Token is the Todoist API token. Required.
	Token string

	// BaseURL overrides the API endpoint, for tests and proxies.
	BaseURL string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Source implements ports.TaskSource against Todoist.
type Source struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// New builds the source. The token is required; everything else defaults.
func New(cfg Config) (*Source, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("todoist: an API token is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Source{
		baseURL: strings.TrimRight(base, "/"),
		token:   cfg.Token,
		http:    client,
		logger:  logger,
		now:     now,
	}, nil
}

type apiDue struct {
	Date string `json:"date"`
}

type apiTask struct {
	ID          string   `json:"id"`
	Content     string   `json:"content"`
	Description string   `json:"description"`
	Labels      []string `json:"labels"`
	Priority    int      `json:"priority"`
	ProjectID   string   `json:"project_id"`
	Due         *apiDue  `json:"due"`
}

type apiProject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Fetch returns tasks due today or overdue, in API order, with project names
// resolved. Tasks without a due date are not part of the working set. A
// positive limit caps the result after filtering.
func (s *Source) Fetch(ctx context.Context, limit int) ([]domain.Task, error) {
	var projects []apiProject
	if err := s.getJSON(ctx, "/projects", &projects); err != nil {
		return nil, fmt.Errorf("todoist: fetch projects: %w", err)
	}
	names := make(map[string]string, len(projects))
	for _, p := range projects {
		names[p.ID] = p.Name
	}

	var raw []apiTask
	if err := s.getJSON(ctx, "/tasks", &raw); err != nil {
		return nil, fmt.Errorf("todoist: fetch tasks: %w", err)
	}

	today := dateOnly(s.now())
	tasks := make([]domain.Task, 0, len(raw))
	for _, t := range raw {
		if t.Due == nil || t.Due.Date == "" {
			continue
		}
		day := t.Due.Date
		if len(day) > 10 {
			day = day[:10]
		}
		due, err := time.Parse("2006-01-02", day)
		if err != nil {
			s.logger.Warn("skipping task with unparseable due date", "task_id", t.ID, "due", t.Due.Date)
			continue
		}
		if due.After(today) {
			continue
		}
		tasks = append(tasks, domain.Task{
			ID:          t.ID,
			Content:     t.Content,
			Description: t.Description,
			Labels:      t.Labels,
			Priority:    t.Priority,
			Due:         &due,
			ProjectID:   t.ProjectID,
			ProjectName: names[t.ProjectID],
		})
	}
	if limit > 0 && len(tasks) > limit {
		tasks = tasks[:limit]
	}
	s.logger.Info("tasks fetched from todoist", "count", len(tasks))
	return tasks, nil
}

func (s *Source) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
