package subjects

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
)

const aliceID = "6f1c1f2e-7b0a-4d55-9a43-1f0b8c2d9e11"

func staticExists(known ...string) ExistsFunc {
	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}
	return func(_ context.Context, id string) (bool, error) {
		return set[id], nil
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_ResolveKnownRecord(t *testing.T) {
	reg := NewRegistry()
	reg.Register("post", NewLocatorResolver(staticExists("42"), "/posts/{id}/"))

	got, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "post", RecordID: "42"})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if got != "/posts/42/" {
		t.Errorf("Resolve() = %q, want /posts/42/", got)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "ghost", RecordID: "1"})
	if !errors.Is(err, ErrUnknownType) {
		t.Errorf("Resolve() error = %v, want ErrUnknownType", err)
	}
}

func TestRegistry_DeletedRecord(t *testing.T) {
	reg := NewRegistry()
	reg.Register("post", NewLocatorResolver(staticExists(), "/posts/{id}/"))

	_, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "post", RecordID: "42"})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Resolve() error = %v, want ErrRecordNotFound", err)
	}
}

func TestRegistry_EmptyRecordID(t *testing.T) {
	reg := NewRegistry()
	reg.Register("post", NewLocatorResolver(staticExists(""), "/posts/{id}/"))

	_, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "post"})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Resolve() error = %v, want ErrRecordNotFound", err)
	}
}

func TestRegistry_LookupErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	reg := NewRegistry()
	reg.Register("post", NewLocatorResolver(func(context.Context, string) (bool, error) {
		return false, boom
	}, "/posts/{id}/"))

	_, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "post", RecordID: "42"})
	if !errors.Is(err, boom) {
		t.Errorf("Resolve() error = %v, want lookup error", err)
	}
}

func TestRegistry_TagsAndHas(t *testing.T) {
	reg := NewRegistry()
	reg.Register("post", ResolverFunc(func(context.Context, string) (string, error) { return "", nil }))
	reg.Register("comment", ResolverFunc(func(context.Context, string) (string, error) { return "", nil }))

	tags := reg.Tags()
	if len(tags) != 2 || tags[0] != "comment" || tags[1] != "post" {
		t.Errorf("Tags() = %v, want [comment post]", tags)
	}
	if !reg.Has("post") || reg.Has("user") {
		t.Error("Has() returned wrong membership")
	}
}

func TestLocatorResolver_EscapesID(t *testing.T) {
	r := NewLocatorResolver(staticExists("a b/c"), "/things/{id}/")
	got, err := r.Locate(context.Background(), "a b/c")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if got != "/things/a%20b%2Fc/" {
		t.Errorf("Locate() = %q", got)
	}
}

func TestLocatorResolver_RequireUUID(t *testing.T) {
	called := false
	r := NewLocatorResolver(func(context.Context, string) (bool, error) {
		called = true
		return true, nil
	}, "/user/{id}/").RequireUUID()

	if _, err := r.Locate(context.Background(), "not-a-uuid"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Locate() error = %v, want ErrRecordNotFound", err)
	}
	if called {
		t.Error("existence check should not run for malformed ids")
	}
}

// ---------------------------------------------------------------------------
// TableResolver
// ---------------------------------------------------------------------------

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestTableResolver_QuotesIdentifiers(t *testing.T) {
	db, mock := newMockDB(t)
	r, err := NewTableResolver(db, "blog.posts", "slug", "https://example.com/p/{id}")
	if err != nil {
		t.Fatalf("NewTableResolver() error: %v", err)
	}

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM "blog"\."posts" WHERE "slug"::text = \$1\)`).
		WithArgs("hello").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	got, err := r.Locate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Locate() error: %v", err)
	}
	if got != "https://example.com/p/hello" {
		t.Errorf("Locate() = %q", got)
	}
}

func TestTableResolver_RejectsBadInput(t *testing.T) {
	db, _ := newMockDB(t)
	tests := []struct {
		name, table, column, tmpl string
	}{
		{"injection in table", "posts; DROP TABLE users", "id", "/p/{id}"},
		{"too many dots", "a.b.c", "id", "/p/{id}"},
		{"bad column", "posts", "id-1", "/p/{id}"},
		{"template without placeholder", "posts", "id", "/p/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewTableResolver(db, tt.table, tt.column, tt.tmpl); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

// ---------------------------------------------------------------------------
// NewRegistryFromConfig
// ---------------------------------------------------------------------------

func TestNewRegistryFromConfig(t *testing.T) {
	db, mock := newMockDB(t)
	cfg := &config.Config{
		Server: config.ServerConfig{BaseURL: "https://log.example.com/"},
		Subjects: config.SubjectsConfig{Types: []config.SubjectTypeConfig{
			{Tag: "post", Table: "posts", URLTemplate: "/posts/{id}/"},
		}},
	}

	reg, err := NewRegistryFromConfig(cfg, db, Lookups{
		UserExists:  staticExists(aliceID),
		GroupExists: staticExists(),
	})
	if err != nil {
		t.Fatalf("NewRegistryFromConfig() error: %v", err)
	}

	if tags := reg.Tags(); len(tags) != 3 {
		t.Errorf("Tags() = %v, want group, post, user", tags)
	}

	got, err := reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "user", RecordID: aliceID})
	if err != nil {
		t.Fatalf("Resolve(user) error: %v", err)
	}
	if want := "https://log.example.com/user/" + aliceID + "/"; got != want {
		t.Errorf("Resolve(user) = %q, want %q", got, want)
	}

	mock.ExpectQuery("SELECT EXISTS.*FROM \"posts\"").
		WithArgs("42").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	got, err = reg.Resolve(context.Background(), models.SubjectRef{TypeTag: "post", RecordID: "42"})
	if err != nil {
		t.Fatalf("Resolve(post) error: %v", err)
	}
	if got != "https://log.example.com/posts/42/" {
		t.Errorf("Resolve(post) = %q", got)
	}
}

func TestNewRegistryFromConfig_InvalidType(t *testing.T) {
	db, _ := newMockDB(t)
	cfg := &config.Config{
		Subjects: config.SubjectsConfig{Types: []config.SubjectTypeConfig{
			{Tag: "post", Table: "posts", URLTemplate: "/posts/"},
		}},
	}
	if _, err := NewRegistryFromConfig(cfg, db, Lookups{}); err == nil {
		t.Error("expected error for template without {id}, got nil")
	}
}
