package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"

	"github.com/object-log/object-log/internal/telemetry"
)

// objectLogRouter mirrors the route shapes of the object log: an admin-gated page, its JSON
// twin and the public resolve redirect.
func objectLogRouter() *gin.Engine {
	r := gin.New()
	r.Use(MetricsMiddleware())
	r.GET("/user/:id/object_log/", func(c *gin.Context) {
		AbortWithError(c, http.StatusForbidden, MsgForbidden)
	})
	r.GET("/api/v1/users/:id/object_log", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": []any{}})
	})
	r.GET("/object/:type_tag/:id/", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/posts/"+c.Param("id")+"/")
	})
	return r
}

func requestsTotal(path, status string) float64 {
	return testutil.ToFloat64(telemetry.HTTPRequestsTotal.WithLabelValues(http.MethodGet, path, status))
}

func TestMetricsMiddleware_CountsByRouteTemplateAndStatus(t *testing.T) {
	r := objectLogRouter()

	tests := []struct {
		url      string
		template string
		status   string
	}{
		{"/user/8d2e/object_log/", "/user/:id/object_log/", "403"},
		{"/api/v1/users/8d2e/object_log", "/api/v1/users/:id/object_log", "200"},
		{"/object/post/42/", "/object/:type_tag/:id/", "302"},
		{"/nowhere", "<no-route>", "404"},
	}
	for _, tt := range tests {
		t.Run(tt.template, func(t *testing.T) {
			before := requestsTotal(tt.template, tt.status)
			r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, before+1, requestsTotal(tt.template, tt.status))
		})
	}
}

func TestMetricsMiddleware_ObservesDuration(t *testing.T) {
	r := objectLogRouter()
	observer := telemetry.HTTPRequestDuration.WithLabelValues(http.MethodGet, "/object/:type_tag/:id/")

	before := sampleCount(t, observer)
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/object/comment/7/", nil))
	assert.Equal(t, before+1, sampleCount(t, observer))
}

func TestMetricsMiddleware_RecordIDsNeverBecomeLabels(t *testing.T) {
	r := objectLogRouter()
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/object/post/secret-record-99/", nil))

	ch := make(chan prometheus.Metric, 64)
	telemetry.HTTPRequestsTotal.Collect(ch)
	close(ch)
	for m := range ch {
		var dm dto.Metric
		if err := m.Write(&dm); err != nil {
			continue
		}
		for _, lp := range dm.GetLabel() {
			assert.NotContains(t, lp.GetValue(), "secret-record-99")
		}
	}
}

func sampleCount(t *testing.T, o prometheus.Observer) uint64 {
	t.Helper()
	m, ok := o.(prometheus.Metric)
	if !ok {
		t.Fatalf("observer %T is not a metric", o)
	}
	var dm dto.Metric
	if err := m.Write(&dm); err != nil {
		t.Fatal(err)
	}
	return dm.GetHistogram().GetSampleCount()
}
