package todoist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const projectsJSON = `[
	{"id": "p1", "name": "Inbox"},
	{"id": "p2", "name": "Deep Work"}
]`

const tasksJSON = `[
	{"id": "t1", "content": "Pay the invoice", "description": "ACME, net 30", "labels": ["short"], "priority": 4, "project_id": "p1", "due": {"date": "2025-03-14"}},
	{"id": "t2", "content": "Review draft", "labels": [], "priority": 1, "project_id": "p2", "due": {"date": "2025-03-15"}},
	{"id": "t3", "content": "Plan offsite", "priority": 2, "project_id": "p2", "due": {"date": "2025-03-20"}},
	{"id": "t4", "content": "Someday: learn sketching", "priority": 1, "project_id": "p1"},
	{"id": "t5", "content": "Standup notes", "priority": 1, "project_id": "p2", "due": {"date": "2025-03-15T09:00:00"}}
]`

// fixedNow keeps every test on the same day: t1 is overdue, t2 and t5 are due
// today, t3 is in the future, t4 is undated.
func fixedNow() time.Time {
	return time.Date(2025, 3, 15, 14, 30, 0, 0, time.UTC)
}

func newServer(t *testing.T, fn func(w http.ResponseWriter, r *http.Request) bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fn != nil && fn(w, r) {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/projects":
			w.Write([]byte(projectsJSON))
		case "/tasks":
			w.Write([]byte(tasksJSON))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newSource(t *testing.T, srv *httptest.Server) *Source {
	t.Helper()
	src, err := New(Config{Token: "test-token", BaseURL: srv.URL, Now: fixedNow})
	require.NoError(t, err)
	return src
}

func TestFetchReturnsDueAndOverdueTasks(t *testing.T) {
	srv := newServer(t, nil)
	src := newSource(t, srv)

	tasks, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "Pay the invoice", tasks[0].Content)
	assert.Equal(t, "ACME, net 30", tasks[0].Description)
	assert.Equal(t, []string{"short"}, tasks[0].Labels)
	assert.Equal(t, 4, tasks[0].Priority)
	assert.Equal(t, "Inbox", tasks[0].ProjectName)
	require.NotNil(t, tasks[0].Due)
	assert.Equal(t, "2025-03-14", tasks[0].DueString())

	assert.Equal(t, "t2", tasks[1].ID)
	assert.Equal(t, "Deep Work", tasks[1].ProjectName)

	// t5 carries a datetime in the due date and is still due today.
	assert.Equal(t, "t5", tasks[2].ID)
	assert.Equal(t, "2025-03-15", tasks[2].DueString())
}

func TestFetchAppliesLimitAfterFiltering(t *testing.T) {
	srv := newServer(t, nil)
	src := newSource(t, srv)

	tasks, err := src.Fetch(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "t2", tasks[1].ID)
}

func TestFetchSendsBearerToken(t *testing.T) {
	var auths []string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		auths = append(auths, r.Header.Get("Authorization"))
		return false
	})
	src := newSource(t, srv)

	_, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, auths, 2)
	for _, a := range auths {
		assert.Equal(t, "Bearer test-token", a)
	}
}

func TestFetchSkipsUnparseableDueDates(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) bool {
		if r.URL.Path != "/tasks" {
			return false
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": "bad", "content": "Garbled", "project_id": "p1", "due": {"date": "soon"}},
			{"id": "ok", "content": "Fine", "project_id": "p1", "due": {"date": "2025-03-10"}}
		]`))
		return true
	})
	src := newSource(t, srv)

	tasks, err := src.Fetch(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "ok", tasks[0].ID)
}

func TestFetchSurfacesAPIErrors(t *testing.T) {
	t.Run("Projects", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) bool {
			if r.URL.Path != "/projects" {
				return false
			}
			http.Error(w, "bad token", http.StatusUnauthorized)
			return true
		})
		src := newSource(t, srv)

		_, err := src.Fetch(context.Background(), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch projects")
		assert.Contains(t, err.Error(), "bad token")
	})

	t.Run("Tasks", func(t *testing.T) {
		srv := newServer(t, func(w http.ResponseWriter, r *http.Request) bool {
			if r.URL.Path != "/tasks" {
				return false
			}
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return true
		})
		src := newSource(t, srv)

		_, err := src.Fetch(context.Background(), 0)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fetch tasks")
	})
}

func TestNewRequiresToken(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token")
}
