package admin

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"

	"github.com/object-log/object-log/internal/config"
	"github.com/object-log/object-log/internal/db/models"
	"github.com/object-log/object-log/internal/middleware"
)

// userSQLCols are the columns returned by user SELECT queries.
var userSQLCols = []string{"id", "username", "email", "name", "is_superuser", "is_active", "created_at", "updated_at"}

func sampleUserRow(id string) *sqlmock.Rows {
	return sqlmock.NewRows(userSQLCols).
		AddRow(id, "alice", "alice@example.com", "Alice", false, true, time.Now(), time.Now())
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Auth.APIKeys.Enabled = true
	cfg.Auth.APIKeys.Prefix = "olk_"
	return cfg
}

// asUser injects an authenticated user into the gin context.
func asUser(user *models.User) gin.HandlerFunc {
	return func(c *gin.Context) {
		if user != nil {
			c.Set(middleware.ContextKeyUser, user)
			c.Set(middleware.ContextKeyUserID, user.ID)
		}
		c.Next()
	}
}

func doJSON(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
