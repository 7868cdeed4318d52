package logs

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"

	"github.com/object-log/object-log/internal/middleware"
	"github.com/object-log/object-log/internal/objectlog"
)

var errBadQuery = errors.New("invalid query")

type view struct {
	Title    string
	Subtitle string
	Page     *objectlog.Page
	PrevURL  string
	NextURL  string
}

// renderPage is the single point where a page of entries becomes a response: JSON for API
// callers, the object_log.html template otherwise.
func renderPage(c *gin.Context, v view, page *objectlog.Page) {
	if middleware.WantsJSON(c) {
		c.JSON(http.StatusOK, page)
		return
	}

	v.Page = page
	if page.HasPrev() {
		v.PrevURL = pageURL(c, page.Page-1)
	}
	if page.HasNext() {
		v.NextURL = pageURL(c, page.Page+1)
	}
	c.Render(http.StatusOK, render.HTML{
		Template: pageTemplates,
		Name:     "object_log.html",
		Data:     v,
	})
}

func pageURL(c *gin.Context, page int) string {
	u := *c.Request.URL
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.RequestURI()
}

// respondError maps service errors to status codes. Persistence details are logged, never
// returned.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, objectlog.ErrNotFound):
		middleware.AbortWithError(c, http.StatusNotFound, "Not found")
	case errors.Is(err, objectlog.ErrForbidden):
		middleware.AbortWithError(c, http.StatusForbidden, middleware.MsgForbidden)
	case errors.Is(err, objectlog.ErrInvalidEntry), errors.Is(err, errBadQuery):
		middleware.AbortWithError(c, http.StatusBadRequest, err.Error())
	default:
		slog.Error("object log request failed",
			"error", err,
			"path", c.FullPath(),
			"request_id", c.GetString(middleware.RequestIDKey),
		)
		middleware.AbortWithError(c, http.StatusInternalServerError, "Internal server error")
	}
}

// parseListOptions reads page, per_page, action, since and until from the query string.
// since and until are RFC 3339 timestamps.
func parseListOptions(c *gin.Context) (objectlog.ListOptions, error) {
	opts := objectlog.ListOptions{Action: c.Query("action")}

	if v := c.Query("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: page must be a number", errBadQuery)
		}
		opts.Page = n
	}
	if v := c.Query("per_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, fmt.Errorf("%w: per_page must be a number", errBadQuery)
		}
		opts.PerPage = n
	}

	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"since", &opts.Since}, {"until", &opts.Until}} {
		v := c.Query(p.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return opts, fmt.Errorf("%w: %s must be an RFC 3339 timestamp", errBadQuery, p.name)
		}
		*p.dst = &t
	}
	return opts, nil
}
