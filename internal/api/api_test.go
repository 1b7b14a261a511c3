package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/taskplanner/internal/auth"
	"github.com/friendsincode/taskplanner/internal/calendar"
	"github.com/friendsincode/taskplanner/internal/changelog"
	"github.com/friendsincode/taskplanner/internal/db"
	"github.com/friendsincode/taskplanner/internal/events"
	"github.com/friendsincode/taskplanner/internal/models"
	"github.com/friendsincode/taskplanner/internal/parser"
	"github.com/friendsincode/taskplanner/internal/scheduler"
	"github.com/friendsincode/taskplanner/internal/tasks"
)

var testSecret = []byte("test-signing-key")

type stubSource struct {
	events []calendar.Event
}

func (s *stubSource) FetchAll(ctx context.Context, sources []models.CalendarSource) ([]calendar.Event, []calendar.SourceResult) {
	if len(sources) == 0 {
		return nil, nil
	}
	return s.events, []calendar.SourceResult{{SourceID: sources[0].ID, Name: sources[0].Name, Events: len(s.events)}}
}

type fakeFeeds struct {
	mu   sync.Mutex
	urls []string
}

func (f *fakeFeeds) InvalidateFeed(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return nil
}

type testEnv struct {
	router http.Handler
	db     *gorm.DB
	tasks  *tasks.Service
	bus    *events.Bus
	source *stubSource
	feeds  *fakeFeeds
	token  string
}

func newTestEnv(t *testing.T, configure ...func(*Options)) *testEnv {
	t.Helper()
	database, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := database.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zerolog.Nop()
	bus := events.NewBus()
	source := &stubSource{}
	feeds := &fakeFeeds{}
	taskSvc := tasks.NewService(database, bus, logger)

	verifier, err := auth.NewPasswordVerifier("secret")
	if err != nil {
		t.Fatalf("password verifier: %v", err)
	}

	opts := Options{
		Tasks:     taskSvc,
		Scheduler: scheduler.New(database, source, bus, scheduler.Config{Location: time.UTC}, logger),
		Events:    source,
		ChangeLog: changelog.NewService(database, logger),
		Bus:       bus,
		Feeds:     feeds,
		Password:  verifier,
		JWTSecret: testSecret,
		Location:  time.UTC,
	}
	for _, fn := range configure {
		fn(&opts)
	}

	r := chi.NewRouter()
	New(opts, logger).Routes(r)

	token, _, err := auth.Issue(testSecret, auth.OwnerSubject, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	return &testEnv{
		router: r,
		db:     database,
		tasks:  taskSvc,
		bus:    bus,
		source: source,
		feeds:  feeds,
		token:  token,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func (e *testEnv) createTask(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/tasks", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create task status = %d body=%s", rr.Code, rr.Body.String())
	}
	return decode[map[string]any](t, rr)
}

func TestHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	if rr := env.do(t, http.MethodGet, "/api/v1/health", nil); rr.Code != http.StatusOK {
		t.Fatalf("health status = %d", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/api/v1/tasks", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("tasks without token status = %d", rr.Code)
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)
	env.token = ""

	rr := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{"password": "wrong"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/login", map[string]string{"password": "secret"})
	if rr.Code != http.StatusOK {
		t.Fatalf("login status = %d body=%s", rr.Code, rr.Body.String())
	}
	body := decode[map[string]any](t, rr)
	token, _ := body["token"].(string)
	if token == "" {
		t.Fatalf("missing token in %v", body)
	}
	if !strings.Contains(rr.Header().Get("Set-Cookie"), auth.SessionCookie+"=") {
		t.Fatalf("session cookie not set: %q", rr.Header().Get("Set-Cookie"))
	}

	env.token = token
	if rr := env.do(t, http.MethodGet, "/api/v1/tasks", nil); rr.Code != http.StatusOK {
		t.Fatalf("tasks with issued token status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/logout", nil)
	if rr.Code != http.StatusOK || !strings.Contains(rr.Header().Get("Set-Cookie"), "Max-Age=0") {
		t.Fatalf("logout status = %d cookie=%q", rr.Code, rr.Header().Get("Set-Cookie"))
	}
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.LoginLimiter = rate.NewLimiter(0, 1)
	})
	env.token = ""

	env.do(t, http.MethodPost, "/api/v1/login", map[string]string{"password": "wrong"})
	rr := env.do(t, http.MethodPost, "/api/v1/login", map[string]string{"password": "secret"})
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second attempt status = %d", rr.Code)
	}
}

func TestTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)

	task := env.createTask(t, map[string]any{
		"title":              "Write report",
		"deadline":           "2030-01-10T17:00:00Z",
		"estimated_duration": 90,
	})
	id := task["id"].(string)
	if task["deadline"] != "2030-01-10T17:00:00Z" {
		t.Fatalf("deadline = %v", task["deadline"])
	}
	if task["estimated_duration"] != float64(90) {
		t.Fatalf("estimated_duration = %v", task["estimated_duration"])
	}

	rr := env.do(t, http.MethodPut, "/api/v1/tasks/"+id, map[string]any{"scheduled_start": "2030-01-08T09:00"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("half placement status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/tasks/"+id, map[string]any{"title": "Write final report", "deadline": nil})
	if rr.Code != http.StatusOK {
		t.Fatalf("update status = %d body=%s", rr.Code, rr.Body.String())
	}
	updated := decode[map[string]any](t, rr)
	if updated["title"] != "Write final report" || updated["deadline"] != nil {
		t.Fatalf("updated = %v", updated)
	}
	if updated["estimated_duration"] != float64(90) {
		t.Fatalf("untouched field changed: %v", updated["estimated_duration"])
	}

	rr = env.do(t, http.MethodPost, "/api/v1/tasks/"+id+"/toggle-freeze", nil)
	if got := decode[map[string]any](t, rr); got["frozen"] != true {
		t.Fatalf("toggle freeze = %v", got)
	}

	if rr := env.do(t, http.MethodDelete, "/api/v1/tasks/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := env.do(t, http.MethodDelete, "/api/v1/tasks/"+id, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", rr.Code)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body any
	}{
		{"missing title", map[string]any{"priority": 3}},
		{"bad deadline", map[string]any{"title": "x", "deadline": "soonish"}},
		{"unknown space", map[string]any{"title": "x", "space_id": "missing"}},
		{"malformed json", "{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/api/v1/tasks", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d body=%s", rr.Code, rr.Body.String())
			}
		})
	}
}

func TestParseResolvesSpaces(t *testing.T) {
	reply := `[{"title":"Team sync","space":"Work","priority":4},{"title":"Read chapter","space_id":"nope","estimated_duration":45}]`
	llm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": reply}}},
		})
	}))
	defer llm.Close()

	env := newTestEnv(t, func(o *Options) {
		o.Parser = parser.New(parser.Config{APIKey: "k", BaseURL: llm.URL, Location: time.UTC}, zerolog.Nop())
	})
	work, err := env.tasks.CreateSpace(context.Background(), tasks.SpaceInput{Name: "work"})
	if err != nil {
		t.Fatalf("create space: %v", err)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/tasks/parse", map[string]string{"text": "sync with team, then read"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("parse status = %d body=%s", rr.Code, rr.Body.String())
	}
	created := decode[[]map[string]any](t, rr)
	if len(created) != 2 {
		t.Fatalf("created %d tasks", len(created))
	}
	if created[0]["space_id"] != work.ID || created[0]["space"] != "work" {
		t.Fatalf("first task space = %v / %v", created[0]["space_id"], created[0]["space"])
	}
	if created[1]["space_id"] != nil {
		t.Fatalf("unknown space should be dropped, got %v", created[1]["space_id"])
	}
	if created[1]["estimated_duration"] != float64(45) {
		t.Fatalf("estimated_duration = %v", created[1]["estimated_duration"])
	}
}

func TestParseFallsBackToRawText(t *testing.T) {
	env := newTestEnv(t, func(o *Options) {
		o.Parser = parser.New(parser.Config{}, zerolog.Nop())
	})

	rr := env.do(t, http.MethodPost, "/api/v1/tasks/parse", map[string]string{"text": "call the plumber"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("parse status = %d body=%s", rr.Code, rr.Body.String())
	}
	task := decode[map[string]any](t, rr)
	if task["title"] != "call the plumber" || task["priority"] != float64(parser.FallbackPriority) {
		t.Fatalf("fallback task = %v", task)
	}

	if rr := env.do(t, http.MethodPost, "/api/v1/tasks/parse", map[string]string{"text": "  "}); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty text status = %d", rr.Code)
	}
}

func TestFreezeDay(t *testing.T) {
	env := newTestEnv(t)
	id := env.createTask(t, map[string]any{"title": "Planned"})["id"].(string)

	rr := env.do(t, http.MethodPut, "/api/v1/tasks/"+id, map[string]any{
		"scheduled_start": "2030-01-10T09:00:00",
		"scheduled_end":   "2030-01-10T10:00:00",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("place status = %d body=%s", rr.Code, rr.Body.String())
	}

	rr = env.do(t, http.MethodPost, "/api/v1/tasks/freeze-day", map[string]string{"date": "2030-01-10"})
	got := decode[map[string]any](t, rr)
	if got["count"] != float64(1) || got["frozen"] != true {
		t.Fatalf("freeze day = %v", got)
	}

	rr = env.do(t, http.MethodPost, "/api/v1/tasks/freeze-day", map[string]string{"date": "2030-01-11"})
	if got := decode[map[string]any](t, rr); got["count"] != float64(0) || got["message"] == nil {
		t.Fatalf("empty day = %v", got)
	}

	for _, body := range []map[string]string{{}, {"date": "10/01/2030"}} {
		if rr := env.do(t, http.MethodPost, "/api/v1/tasks/freeze-day", body); rr.Code != http.StatusBadRequest {
			t.Fatalf("freeze day %v status = %d", body, rr.Code)
		}
	}
}

func TestReorder(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, map[string]any{"title": "a"})["id"].(string)
	b := env.createTask(t, map[string]any{"title": "b"})["id"].(string)

	rr := env.do(t, http.MethodPost, "/api/v1/tasks/reorder", map[string]any{"task_ids": []string{b, a, "ghost"}})
	if got := decode[map[string]any](t, rr); got["updated"] != float64(2) {
		t.Fatalf("reorder = %v", got)
	}

	list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/tasks", nil))
	if len(list) != 2 || list[0]["id"] != b {
		t.Fatalf("list after reorder = %v", list)
	}
}

func TestScheduleRunAndExport(t *testing.T) {
	env := newTestEnv(t)
	env.createTask(t, map[string]any{"title": "Deep work", "estimated_duration": 60})

	rr := env.do(t, http.MethodPost, "/api/v1/schedule", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("schedule status = %d body=%s", rr.Code, rr.Body.String())
	}
	if got := decode[map[string]any](t, rr); got["scheduled_tasks"] != float64(1) {
		t.Fatalf("schedule = %v", got)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/schedule/ical", nil)
	if ct := rr.Header().Get("Content-Type"); ct != calendar.ContentType {
		t.Fatalf("content type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "SUMMARY:Deep work") {
		t.Fatalf("export missing task:\n%s", rr.Body.String())
	}

	runs := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/schedule/runs", nil))
	if len(runs) != 1 || runs[0]["trigger"] != scheduler.TriggerManual {
		t.Fatalf("runs = %v", runs)
	}
}

func TestSpaces(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/v1/spaces", map[string]any{
		"name":             "gym",
		"time_constraints": []map[string]any{{"day": 5, "start": "08:00", "end": "12:00"}},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", rr.Code, rr.Body.String())
	}
	id := decode[map[string]any](t, rr)["id"].(string)

	if rr := env.do(t, http.MethodPost, "/api/v1/spaces", map[string]any{"name": "gym"}); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate status = %d", rr.Code)
	}
	rr = env.do(t, http.MethodPost, "/api/v1/spaces", map[string]any{
		"name":             "bad",
		"time_constraints": []map[string]any{{"day": 1, "start": "18:00", "end": "09:00"}},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("inverted window status = %d", rr.Code)
	}

	rr = env.do(t, http.MethodPut, "/api/v1/spaces/"+id, map[string]any{"description": "weights"})
	if got := decode[map[string]any](t, rr); got["description"] != "weights" || got["name"] != "gym" {
		t.Fatalf("update = %v", got)
	}

	if rr := env.do(t, http.MethodDelete, "/api/v1/spaces/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if list := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/spaces", nil)); len(list) != 0 {
		t.Fatalf("spaces after delete = %v", list)
	}
}

func TestCalendarSourcesAndExternalEvents(t *testing.T) {
	env := newTestEnv(t)
	env.source.events = []calendar.Event{
		{Start: time.Date(2030, 1, 8, 14, 0, 0, 0, time.UTC), End: time.Date(2030, 1, 8, 15, 0, 0, 0, time.UTC), Title: "Later", Source: "external"},
		{Start: time.Date(2030, 1, 8, 9, 0, 0, 0, time.UTC), End: time.Date(2030, 1, 8, 10, 0, 0, 0, time.UTC), Title: "Standup", Source: "external"},
	}

	if evts := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/external-events", nil)); len(evts) != 0 {
		t.Fatalf("events without sources = %v", evts)
	}

	rr := env.do(t, http.MethodPost, "/api/v1/calendar-sources", map[string]any{"name": "work", "ics_url": "https://example.com/work.ics"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create source status = %d body=%s", rr.Code, rr.Body.String())
	}
	id := decode[map[string]any](t, rr)["id"].(string)

	if rr := env.do(t, http.MethodPost, "/api/v1/calendar-sources", map[string]any{"name": "x", "ics_url": "ftp://nope"}); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad url status = %d", rr.Code)
	}

	evts := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/external-events", nil))
	if len(evts) != 2 || evts[0]["title"] != "Standup" || evts[0]["start"] != "2030-01-08T09:00:00" {
		t.Fatalf("external events = %v", evts)
	}

	if rr := env.do(t, http.MethodDelete, "/api/v1/calendar-sources/"+id, nil); rr.Code != http.StatusOK {
		t.Fatalf("delete source status = %d", rr.Code)
	}
	if len(env.feeds.urls) != 1 || env.feeds.urls[0] != "https://example.com/work.ics" {
		t.Fatalf("invalidated feeds = %v", env.feeds.urls)
	}
}

func TestLogs(t *testing.T) {
	env := newTestEnv(t)
	for i, id := range []string{"old", "new"} {
		entry := changelog.NewEntry(models.ChangeActionCreate, models.EntityTask, id, nil, nil)
		entry.Timestamp = time.Now().Add(time.Duration(i) * time.Minute)
		if err := env.db.Create(entry).Error; err != nil {
			t.Fatalf("seed log: %v", err)
		}
	}

	logs := decode[[]map[string]any](t, env.do(t, http.MethodGet, "/api/v1/logs?limit=1", nil))
	if len(logs) != 1 || logs[0]["entity_id"] != "new" {
		t.Fatalf("logs = %v", logs)
	}
	if rr := env.do(t, http.MethodGet, "/api/v1/logs?limit=zero", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", rr.Code)
	}
}

func TestEventsWebsocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/events?types=schedule.update"
	conn, _, err := ws.Dial(ctx, url, &ws.DialOptions{
		HTTPHeader: http.Header{"Authorization": []string{"Bearer " + env.token}},
	})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	// The handler subscribes after the upgrade, so keep publishing until read.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				env.bus.Publish(events.EventScheduleUpdate, events.Payload{"scheduled": 3})
			}
		}
	}()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != string(events.EventScheduleUpdate) || msg.Payload["scheduled"] != float64(3) {
		t.Fatalf("message = %+v", msg)
	}
}

func TestResolveSpace(t *testing.T) {
	spaces := []models.Space{{ID: "s1", Name: "work"}, {ID: "s2", Name: "study"}}
	id := func(s string) *string { return &s }

	tests := []struct {
		name  string
		draft parser.Draft
		hint  string
		want  string
	}{
		{"by id", parser.Draft{SpaceID: id("s2")}, "", "s2"},
		{"by name", parser.Draft{Space: "Work"}, "", "s1"},
		{"id holding a name", parser.Draft{SpaceID: id("study")}, "", "s2"},
		{"hint", parser.Draft{}, "study", "s2"},
		{"unknown", parser.Draft{Space: "garden"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveSpace(tt.draft, spaces, tt.hint)
			if tt.want == "" {
				if got != nil {
					t.Fatalf("got %q, want nil", *got)
				}
				return
			}
			if got == nil || *got != tt.want {
				t.Fatalf("got %v, want %q", got, tt.want)
			}
		})
	}
}
