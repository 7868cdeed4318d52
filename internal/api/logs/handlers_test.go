package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/db/repositories"
	"github.com/object-log/object-log/internal/middleware"
	"github.com/object-log/object-log/internal/objectlog"
	"github.com/object-log/object-log/internal/subjects"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// In-memory stores
// ---------------------------------------------------------------------------

type memStore struct {
	mu      sync.Mutex
	entries []*models.LogEntry
	users   map[string]*models.User
	groups  map[string]*models.Group
	clock   time.Time
	err     error
}

func newMemStore(users ...*models.User) *memStore {
	s := &memStore{
		users:  map[string]*models.User{},
		groups: map[string]*models.Group{},
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *memStore) Create(_ context.Context, e *models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.users[*e.ActorID]; !ok {
		return repositories.ErrUnknownActor
	}
	s.clock = s.clock.Add(time.Second)
	e.ID = uuid.NewString()
	e.CreatedAt = s.clock
	for i := range e.Subjects {
		e.Subjects[i].Slot = i + 1
	}
	s.entries = append(s.entries, e)
	return nil
}

func (s *memStore) filter(keep func(*models.LogEntry) bool, limit, offset int) ([]*models.LogEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, 0, s.err
	}
	var out []*models.LogEntry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if offset >= len(out) {
		return []*models.LogEntry{}, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

func (s *memStore) ListBySubject(_ context.Context, ref models.SubjectRef, _ repositories.LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error) {
	return s.filter(func(e *models.LogEntry) bool { return e.HasSubject(ref) }, limit, offset)
}

func (s *memStore) ListByActor(_ context.Context, actorID string, _ repositories.LogEntryFilters, limit, offset int) ([]*models.LogEntry, int, error) {
	return s.filter(func(e *models.LogEntry) bool { return e.ActorID != nil && *e.ActorID == actorID }, limit, offset)
}

func (s *memStore) GetByID(_ context.Context, id string) (*models.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (s *memStore) GetUserByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], s.err
}

func (s *memStore) GetGroupByID(_ context.Context, id string) (*models.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.groups[id], s.err
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

var (
	alice = &models.User{ID: uuid.NewString(), Username: "alice", IsActive: true}
	bob   = &models.User{ID: uuid.NewString(), Username: "bob", IsActive: true}
	carol = &models.User{ID: uuid.NewString(), Username: "carol", IsActive: true, IsSuperuser: true}
)

type fixture struct {
	store *memStore
	svc   *objectlog.Service
	h     *Handlers
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore(alice, bob, carol)

	reg := subjects.NewRegistry()
	reg.Register(models.SubjectTypeUser, subjects.ResolverFunc(func(ctx context.Context, id string) (string, error) {
		if u, _ := store.GetUserByID(ctx, id); u != nil {
			return "https://example.test/user/" + id + "/", nil
		}
		return "", subjects.ErrRecordNotFound
	}))
	reg.Register("post", subjects.ResolverFunc(func(_ context.Context, id string) (string, error) {
		if id == "42" {
			return "https://example.test/posts/42", nil
		}
		return "", subjects.ErrRecordNotFound
	}))

	svc := objectlog.NewService(store, store, store, reg, nil)
	return &fixture{store: store, svc: svc, h: NewHandlers(svc)}
}

func (f *fixture) record(t *testing.T, actor *models.User, action string, refs ...models.SubjectRef) *models.LogEntry {
	t.Helper()
	e, err := f.svc.Record(context.Background(), objectlog.RecordInput{
		Actor:       actor.Summary(),
		Action:      action,
		Description: actor.Username + " did " + action,
		Subjects:    refs,
	})
	require.NoError(t, err)
	return e
}

// as stands in for the auth middleware.
func as(user *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.ContextKeyUser, user)
			c.Set(middleware.ContextKeyUserID, user.ID)
			c.Set(middleware.ContextKeyAuthMethod, middleware.AuthMethodJWT)
		}
		c.Next()
	}
}

// router mounts the views the way internal/api does: admin views behind RequireSuperuser.
func (f *fixture) router(user *models.User) *gin.Engine {
	r := gin.New()
	r.Use(as(user))

	admin := r.Group("/", middleware.RequireSuperuser())
	admin.GET("/user/:id/object_log/", f.h.UserObjectLogHandler())
	admin.GET("/user/:id/actions/", f.h.UserActionsHandler())
	admin.GET("/group/:id/object_log/", f.h.GroupObjectLogHandler())
	admin.GET("/api/v1/users/:id/object_log", f.h.UserObjectLogHandler())
	admin.GET("/api/v1/users/:id/actions", f.h.UserActionsHandler())
	admin.GET("/api/v1/groups/:id/object_log", f.h.GroupObjectLogHandler())
	admin.GET("/api/v1/objects/:type_tag/:id/log", f.h.ObjectLogHandler(PathRef))
	admin.GET("/api/v1/log/:id", f.h.GetEntryHandler())

	r.GET("/object/:type_tag/:id/", f.h.ResolveHandler())
	r.GET("/api/v1/objects/:type_tag/:id", f.h.ResolveHandler())
	r.POST("/api/v1/log", f.h.RecordHandler())
	return r
}

func do(r http.Handler, method, target string, body []byte, header ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodePage(t *testing.T, w *httptest.ResponseRecorder) objectlog.Page {
	t.Helper()
	var page objectlog.Page
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page), w.Body.String())
	return page
}

// ---------------------------------------------------------------------------
// Admin gate
// ---------------------------------------------------------------------------

func TestUserActions_NonAdminDeniedAdminAllowed(t *testing.T) {
	f := newFixture(t)
	f.record(t, alice, "EDIT", models.SubjectRef{TypeTag: "post", RecordID: "42"})
	f.record(t, alice, "DELETE", models.SubjectRef{TypeTag: "post", RecordID: "43"})
	f.record(t, bob, "EDIT")

	target := "/api/v1/users/" + alice.ID + "/actions"

	w := do(f.router(bob), http.MethodGet, target, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"error":"You are not authorized to view this page"}`, w.Body.String())

	w = do(f.router(carol), http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodePage(t, w)
	assert.Equal(t, 2, page.Total)
	for _, e := range page.Entries {
		assert.Equal(t, alice.ID, *e.ActorID)
	}
}

func TestAdminViews_DeniedForEveryNonAdmin(t *testing.T) {
	f := newFixture(t)
	paths := []string{
		"/user/" + alice.ID + "/object_log/",
		"/user/" + alice.ID + "/actions/",
		"/group/" + uuid.NewString() + "/object_log/",
		"/user/" + alice.ID + "/object_log/?format=json&per_page=100",
	}
	for _, user := range []*models.User{nil, bob} {
		for _, p := range paths {
			w := do(f.router(user), http.MethodGet, p, nil)
			assert.Equal(t, http.StatusForbidden, w.Code, p)
			assert.Contains(t, w.Body.String(), middleware.MsgForbidden, p)
		}
	}
}

// ---------------------------------------------------------------------------
// Views
// ---------------------------------------------------------------------------

func TestUserObjectLog_HTMLAndJSONShareResults(t *testing.T) {
	f := newFixture(t)
	userRef := models.SubjectRef{TypeTag: models.SubjectTypeUser, RecordID: alice.ID}
	f.record(t, carol, "DEACTIVATE", userRef)
	f.record(t, bob, "EDIT", models.SubjectRef{TypeTag: "post", RecordID: "42"})

	r := f.router(carol)

	w := do(r, http.MethodGet, "/user/"+alice.ID+"/object_log/", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	body := w.Body.String()
	assert.Contains(t, body, "DEACTIVATE")
	assert.Contains(t, body, "carol")
	assert.NotContains(t, body, "post:42")
	assert.Contains(t, body, `href="/object/user/`+alice.ID+`/"`)

	w = do(r, http.MethodGet, "/user/"+alice.ID+"/object_log/?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decodePage(t, w)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "DEACTIVATE", page.Entries[0].Action)
	assert.Equal(t, "carol", page.Entries[0].Actor.Username)

	w = do(r, http.MethodGet, "/user/"+alice.ID+"/object_log/", nil, "Accept", "application/json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodePage(t, w).Entries, 1)
}

func TestUserObjectLog_Pagination(t *testing.T) {
	f := newFixture(t)
	ref := models.SubjectRef{TypeTag: models.SubjectTypeUser, RecordID: alice.ID}
	for i := 0; i < 5; i++ {
		f.record(t, carol, "EDIT", ref)
	}
	r := f.router(carol)

	page := decodePage(t, do(r, http.MethodGet, "/api/v1/users/"+alice.ID+"/object_log?per_page=2&page=2", nil))
	assert.Equal(t, 5, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 2, page.PerPage)
	assert.Len(t, page.Entries, 2)

	w := do(r, http.MethodGet, "/user/"+alice.ID+"/object_log/?per_page=2&page=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "page=1")
	assert.Contains(t, w.Body.String(), "page=3")
}

func TestViews_BadQuery(t *testing.T) {
	f := newFixture(t)
	r := f.router(carol)
	for _, q := range []string{"page=x", "per_page=ten", "since=yesterday", "until=2024-13-01"} {
		w := do(r, http.MethodGet, "/api/v1/users/"+alice.ID+"/object_log?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestViews_NotFound(t *testing.T) {
	f := newFixture(t)
	r := f.router(carol)
	tests := []string{
		"/api/v1/users/" + uuid.NewString() + "/object_log",
		"/api/v1/users/not-a-uuid/actions",
		"/api/v1/groups/" + uuid.NewString() + "/object_log",
		"/api/v1/log/" + uuid.NewString(),
	}
	for _, p := range tests {
		w := do(r, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}

	w := do(r, http.MethodGet, "/user/"+uuid.NewString()+"/object_log/", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
}

func TestViews_PersistenceFailureIsGeneric500(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("pq: relation \"log_entries\" does not exist")

	w := do(f.router(carol), http.MethodGet, "/api/v1/objects/post/42/log", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "log_entries")
}

func TestObjectLogHandler_AnySlotOnce(t *testing.T) {
	f := newFixture(t)
	post := models.SubjectRef{TypeTag: "post", RecordID: "42"}
	comment := models.SubjectRef{TypeTag: "comment", RecordID: "7"}
	f.record(t, alice, "CREATE", post)
	f.record(t, alice, "REPLY", comment, post)
	f.record(t, alice, "LINK", post, post)

	r := f.router(carol)

	page := decodePage(t, do(r, http.MethodGet, "/api/v1/objects/post/42/log", nil))
	assert.Equal(t, 3, page.Total)
	assert.Len(t, page.Entries, 3)

	page = decodePage(t, do(r, http.MethodGet, "/api/v1/objects/comment/7/log", nil))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "REPLY", page.Entries[0].Action)
}

func TestObjectLogHandler_CustomRefFunc(t *testing.T) {
	f := newFixture(t)
	f.record(t, alice, "CREATE", models.SubjectRef{TypeTag: "post", RecordID: "42"})

	r := gin.New()
	r.GET("/posts/:pk/history", f.h.ObjectLogHandler(func(c *gin.Context) (models.SubjectRef, error) {
		return models.SubjectRef{TypeTag: "post", RecordID: c.Param("pk")}, nil
	}))
	r.GET("/broken", f.h.ObjectLogHandler(func(*gin.Context) (models.SubjectRef, error) {
		return models.SubjectRef{}, objectlog.ErrForbidden
	}))

	w := do(r, http.MethodGet, "/posts/42/history?format=json", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodePage(t, w).Entries, 1)

	w = do(r, http.MethodGet, "/broken", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetEntryHandler(t *testing.T) {
	f := newFixture(t)
	e := f.record(t, alice, "EDIT", models.SubjectRef{TypeTag: "post", RecordID: "42"})

	w := do(f.router(carol), http.MethodGet, "/api/v1/log/"+e.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Entry   models.LogEntry `json:"entry"`
		Message string          `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, e.ID, body.Entry.ID)
	assert.Equal(t, "alice did EDIT", body.Message)
}

// ---------------------------------------------------------------------------
// Resolve
// ---------------------------------------------------------------------------

func TestResolveHandler(t *testing.T) {
	f := newFixture(t)
	r := f.router(nil)

	w := do(r, http.MethodGet, "/object/post/42/", nil)
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://example.test/posts/42", w.Header().Get("Location"))

	w = do(r, http.MethodGet, "/api/v1/objects/user/"+alice.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"type_tag":"user","record_id":"`+alice.ID+`","locator":"https://example.test/user/`+alice.ID+`/"}`, w.Body.String())

	for _, p := range []string{"/object/post/43/", "/object/widget/1/", "/api/v1/objects/user/" + uuid.NewString()} {
		w = do(r, http.MethodGet, p, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, p)
	}
}

// ---------------------------------------------------------------------------
// Record
// ---------------------------------------------------------------------------

func TestRecordHandler(t *testing.T) {
	f := newFixture(t)
	r := f.router(alice)

	body := []byte(`{"action":"EDIT","description":"changed title","data":{"field":"title"},
		"subjects":[{"type_tag":"post","record_id":"42"},{"type_tag":"comment","record_id":"7"}]}`)
	w := do(r, http.MethodPost, "/api/v1/log", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var entry models.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entry))
	assert.Equal(t, alice.ID, *entry.ActorID)
	require.Len(t, entry.Subjects, 2)
	assert.Equal(t, "post", entry.Subjects[0].TypeTag)
	assert.Equal(t, 2, entry.Subjects[1].Slot)

	page, err := f.svc.ListUserActions(context.Background(), alice.ID, objectlog.ListOptions{})
	require.NoError(t, err)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "changed title", page.Entries[0].Description)
}

func TestRecordHandler_Rejects(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		user *models.User
		body string
		want int
	}{
		{"anonymous", nil, `{"action":"EDIT"}`, http.StatusUnauthorized},
		{"missing action", alice, `{"description":"x"}`, http.StatusBadRequest},
		{"blank action", alice, `{"action":"   "}`, http.StatusBadRequest},
		{"four subjects", alice, `{"action":"EDIT","subjects":[{"type_tag":"a","record_id":"1"},{"type_tag":"a","record_id":"2"},{"type_tag":"a","record_id":"3"},{"type_tag":"a","record_id":"4"}]}`, http.StatusBadRequest},
		{"empty record id", alice, `{"action":"EDIT","subjects":[{"type_tag":"post","record_id":""}]}`, http.StatusBadRequest},
		{"malformed json", alice, `{"action":`, http.StatusBadRequest},
		{"record id too long", alice, `{"action":"EDIT","subjects":[{"type_tag":"post","record_id":"` + strings.Repeat("9", 256) + `"}]}`, http.StatusBadRequest},
		{"action too long", alice, `{"action":"` + strings.Repeat("a", 129) + `"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(f.router(tt.user), http.MethodPost, "/api/v1/log", []byte(tt.body))
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
	assert.Empty(t, f.store.entries)
}

func TestRecordHandler_DeletedActor(t *testing.T) {
	f := newFixture(t)
	ghost := &models.User{ID: uuid.NewString(), Username: "ghost", IsActive: true}

	w := do(f.router(ghost), http.MethodPost, "/api/v1/log", []byte(`{"action":"EDIT"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
