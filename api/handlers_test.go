package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
	"github.com/galsolomon2002/gamified-todo-app/storage"
)

// mockAuth treats the bearer value itself as the user id.
type mockAuth struct{}

func (mockAuth) UserIDFromAuthHeader(h string) (string, error) {
	user, ok := strings.CutPrefix(h, "Bearer ")
	if !ok || user == "" {
		return "", errMissingAuthorization
	}
	return user, nil
}

var errDiskOnFire = errors.New("disk on fire")

// flakyBackend fails selected calls of an in-memory backend.
type flakyBackend struct {
	*storage.MemoryStorage
	failInsert  atomic.Bool
	failFetch   atomic.Bool
	failRewards atomic.Bool
}

func (f *flakyBackend) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if f.failFetch.Load() {
		return nil, errDiskOnFire
	}
	return f.MemoryStorage.FetchTasks(ctx, userID)
}

func (f *flakyBackend) InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error) {
	if f.failInsert.Load() {
		return domain.Task{}, errDiskOnFire
	}
	return f.MemoryStorage.InsertTask(ctx, userID, draft)
}

func (f *flakyBackend) SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error {
	if f.failRewards.Load() {
		return errDiskOnFire
	}
	return f.MemoryStorage.SaveRewards(ctx, userID, rewards)
}

type testServer struct {
	e       *echo.Echo
	backend *flakyBackend
	ledgers *ledger.Registry
	broker  *Broker
	hook    *test.Hook
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	logger, hook := test.NewNullLogger()
	logger.SetLevel(log.DebugLevel)

	backend := &flakyBackend{MemoryStorage: storage.NewMemoryStorage()}
	broker := NewBroker()
	reg := ledger.NewRegistry(func(userID string) ledger.Store {
		return storage.ForUser(backend, userID)
	}, ledger.Options{
		AutoClassify: true,
		Publisher:    broker,
		Logger:       log.NewEntry(logger),
	})

	e := echo.New()
	Register(e, Deps{
		Ledgers: reg,
		Rewards: backend,
		Auth:    mockAuth{},
		Deduper: deduper,
		Broker:  broker,
		Logger:  logger,
	})
	return &testServer{e: e, backend: backend, ledgers: reg, broker: broker, hook: hook}
}

func (s *testServer) do(t *testing.T, method, path, body, user string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if user != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("invalid json %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestCreateListToggleDelete(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/tasks", `{"title":"run 5k","difficulty":"Hard"}`, "u1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	created := decode[taskResponse](t, rec)
	if created.Task.ID == "" || created.Task.Difficulty != domain.Hard || created.Task.Points != 50 {
		t.Fatalf("unexpected task: %+v", created.Task)
	}
	if created.Task.Completed {
		t.Fatalf("new task must start incomplete")
	}
	if created.Progress.TotalTasks != 1 || created.Progress.TotalPoints != 0 {
		t.Fatalf("unexpected progress: %+v", created.Progress)
	}

	rec = s.do(t, http.MethodPost, "/api/tasks/"+created.Task.ID+"/toggle", "", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	toggled := decode[taskResponse](t, rec)
	if !toggled.Task.Completed || toggled.Progress.TotalPoints != 50 || toggled.Progress.ProgressToNextLevel != 0.5 {
		t.Fatalf("unexpected toggle response: %+v", toggled)
	}

	rec = s.do(t, http.MethodGet, "/api/tasks", "", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	list := decode[tasksResponse](t, rec)
	if len(list.Tasks) != 1 || list.Tasks[0].ID != created.Task.ID || !list.Tasks[0].Completed {
		t.Fatalf("unexpected tasks: %+v", list.Tasks)
	}
	if list.Progress.CompletedTasks != 1 || list.Progress.Level != 1 {
		t.Fatalf("unexpected progress: %+v", list.Progress)
	}

	rec = s.do(t, http.MethodGet, "/api/progress", "", "u1")
	if got := decode[domain.Progress](t, rec); got != list.Progress {
		t.Fatalf("progress endpoint = %+v, want %+v", got, list.Progress)
	}

	rec = s.do(t, http.MethodDelete, "/api/tasks/"+created.Task.ID, "", "u1")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d: %s", rec.Code, rec.Body.String())
	}
	rec = s.do(t, http.MethodGet, "/api/tasks", "", "u1")
	if list := decode[tasksResponse](t, rec); len(list.Tasks) != 0 || list.Progress.TotalPoints != 0 {
		t.Fatalf("expected empty ledger after delete, got %+v", list)
	}
}

func TestUsersAreIsolated(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/tasks", `{"title":"a","difficulty":"easy"}`, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	id := decode[taskResponse](t, rec).Task.ID

	if rec := s.do(t, http.MethodGet, "/api/tasks", "", "bob"); len(decode[tasksResponse](t, rec).Tasks) != 0 {
		t.Fatalf("bob must not see alice's tasks")
	}
	if rec := s.do(t, http.MethodPost, "/api/tasks/"+id+"/toggle", "", "bob"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for another user's task, got %d", rec.Code)
	}
}

func TestCreateTaskClassifiesTitle(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/tasks", `{"title":"לקבוע פגישה חשובה"}`, "u1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if task := decode[taskResponse](t, rec).Task; task.Difficulty != domain.Hard || task.Points != 50 {
		t.Fatalf("unexpected classification: %+v", task)
	}
}

func TestCreateTaskRejects(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		name   string
		body   string
		status int
		msg    string
	}{
		{name: "blank title", body: `{"title":"   ","difficulty":"easy"}`, status: http.StatusBadRequest, msg: "title is empty"},
		{name: "unknown difficulty", body: `{"title":"x","difficulty":"impossible"}`, status: http.StatusBadRequest, msg: "unknown difficulty"},
		{name: "scheduling disabled", body: `{"title":"x","difficulty":"easy","scheduledTime":"2026-10-18T09:00:00Z"}`, status: http.StatusBadRequest, msg: "scheduled time"},
		{name: "unknown field", body: `{"title":"x","points":500}`, status: http.StatusBadRequest, msg: "invalid body"},
		{name: "not json", body: `title=x`, status: http.StatusBadRequest, msg: "invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/tasks", tt.body, "u1")
			if rec.Code != tt.status {
				t.Fatalf("expected %d got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if !strings.Contains(rec.Body.String(), tt.msg) {
				t.Fatalf("expected body to mention %q, got %q", tt.msg, rec.Body.String())
			}
		})
	}
	if rec := s.do(t, http.MethodGet, "/api/tasks", "", "u1"); len(decode[tasksResponse](t, rec).Tasks) != 0 {
		t.Fatalf("rejected creations must not reach the store")
	}
}

func TestUnknownTaskIsNotFound(t *testing.T) {
	s := newTestServer(t, nil)
	for _, req := range []struct{ method, path string }{
		{http.MethodPost, "/api/tasks/missing/toggle"},
		{http.MethodDelete, "/api/tasks/missing"},
	} {
		if rec := s.do(t, req.method, req.path, "", "u1"); rec.Code != http.StatusNotFound {
			t.Fatalf("%s %s: expected 404 got %d", req.method, req.path, rec.Code)
		}
	}
}

func TestStoreFailuresMapToBadGateway(t *testing.T) {
	s := newTestServer(t, nil)
	s.backend.failInsert.Store(true)

	rec := s.do(t, http.MethodPost, "/api/tasks", `{"title":"x","difficulty":"easy"}`, "u1")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d: %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), errDiskOnFire.Error()) {
		t.Fatalf("store cause leaked to client: %q", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), domain.ErrPersistFailed.Error()) {
		t.Fatalf("expected persist failure message, got %q", rec.Body.String())
	}

	s.backend.failFetch.Store(true)
	if rec := s.do(t, http.MethodGet, "/api/tasks", "", "u1"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on fetch failure got %d", rec.Code)
	}

	var logged bool
	for _, entry := range s.hook.AllEntries() {
		if entry.Message == observabilityEvent && entry.Level == log.ErrorLevel {
			logged = true
		}
	}
	if !logged {
		t.Fatalf("expected an error level observability event")
	}
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t, nil)
	for _, path := range []string{"/api/tasks", "/api/progress", "/api/rewards", "/api/stream"} {
		rec := s.do(t, http.MethodGet, path, "", "")
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("GET %s: expected 401 got %d", path, rec.Code)
		}
	}
	if rec := s.do(t, http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200 got %d", rec.Code)
	}
}

func TestCreateTaskIdempotency(t *testing.T) {
	_, client := newTestRedis(t)
	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	body := `{"title":"x","difficulty":"easy"}`

	rec := s.do(t, http.MethodPost, "/api/tasks", body, "u1", idempotencyHeader, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/tasks", body, "u1", idempotencyHeader, "k1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on replay got %d", rec.Code)
	}
	rec = s.do(t, http.MethodPost, "/api/tasks", body, "u2", idempotencyHeader, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("keys are per user, expected 201 got %d", rec.Code)
	}
	if rec := s.do(t, http.MethodGet, "/api/tasks", "", "u1"); len(decode[tasksResponse](t, rec).Tasks) != 1 {
		t.Fatalf("replay must not create a second task")
	}
}

func TestCreateTaskIdempotencyRollsBackOnFailure(t *testing.T) {
	_, client := newTestRedis(t)
	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	body := `{"title":"x","difficulty":"easy"}`

	s.backend.failInsert.Store(true)
	if rec := s.do(t, http.MethodPost, "/api/tasks", body, "u1", idempotencyHeader, "k1"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 got %d", rec.Code)
	}
	s.backend.failInsert.Store(false)
	if rec := s.do(t, http.MethodPost, "/api/tasks", body, "u1", idempotencyHeader, "k1"); rec.Code != http.StatusCreated {
		t.Fatalf("expected retry to be accepted, got %d", rec.Code)
	}
}

func TestCreateTaskIdempotencyStoreDown(t *testing.T) {
	m, client := newTestRedis(t)
	s := newTestServer(t, NewRedisDeduper(client, time.Minute))
	m.Close()

	rec := s.do(t, http.MethodPost, "/api/tasks", `{"title":"x","difficulty":"easy"}`, "u1", idempotencyHeader, "k1")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}

func TestClassify(t *testing.T) {
	s := newTestServer(t, nil)
	tests := []struct {
		title string
		want  domain.Difficulty
	}{
		{title: "לקבוע פגישה חשובה", want: domain.Hard},
		{title: "לקנות חלב", want: domain.Medium},
		{title: "לצחצח שיניים", want: domain.Easy},
	}
	for _, tt := range tests {
		rec := s.do(t, http.MethodPost, "/api/classify", `{"title":"`+tt.title+`"}`, "u1")
		if rec.Code != http.StatusOK {
			t.Fatalf("classify %q: expected 200 got %d", tt.title, rec.Code)
		}
		got := decode[classifyResponse](t, rec)
		if got.Difficulty != tt.want || got.Points != domain.PointsOf(tt.want) {
			t.Fatalf("classify %q = %+v, want %s", tt.title, got, tt.want)
		}
	}
	if rec := s.do(t, http.MethodPost, "/api/classify", `{"title":""}`, "u1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty title got %d", rec.Code)
	}
}

func TestRewards(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/rewards", "", "u1")
	if got := decode[domain.Rewards](t, rec); rec.Code != http.StatusOK || got != (domain.Rewards{}) {
		t.Fatalf("expected empty rewards, got %d %+v", rec.Code, got)
	}

	rec = s.do(t, http.MethodPut, "/api/rewards", `{"smallReward":"  גלידה ","bigReward":"סרט"}`, "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rec.Code, rec.Body.String())
	}
	want := domain.Rewards{Small: "גלידה", Big: "סרט"}
	if got := decode[domain.Rewards](t, rec); got != want {
		t.Fatalf("put rewards = %+v, want %+v", got, want)
	}
	if got := decode[domain.Rewards](t, s.do(t, http.MethodGet, "/api/rewards", "", "u1")); got != want {
		t.Fatalf("get rewards = %+v, want %+v", got, want)
	}

	long := strings.Repeat("א", domain.MaxRewardLength+1)
	if rec := s.do(t, http.MethodPut, "/api/rewards", `{"smallReward":"`+long+`"}`, "u1"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long reward got %d", rec.Code)
	}

	s.backend.failRewards.Store(true)
	if rec := s.do(t, http.MethodPut, "/api/rewards", `{"smallReward":"x"}`, "u1"); rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on save failure got %d", rec.Code)
	}
}

func TestRewardSuggestions(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/rewards/suggestions", "", "u1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	got := decode[suggestionsResponse](t, rec)
	if len(got.Small) != len(domain.SuggestedSmallRewards) || len(got.Big) != len(domain.SuggestedBigRewards) {
		t.Fatalf("unexpected suggestions: %+v", got)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.Invalid("op", "x"), http.StatusBadRequest},
		{domain.NotFound("op", "id"), http.StatusNotFound},
		{domain.FetchFailed("op", errDiskOnFire), http.StatusBadGateway},
		{domain.PersistFailed("op", errDiskOnFire), http.StatusBadGateway},
		{errDiskOnFire, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Fatalf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
