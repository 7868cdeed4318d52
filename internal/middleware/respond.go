package middleware

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

const (
	// MsgForbidden is the body of every authorization-denied response.
	MsgForbidden = "You are not authorized to view this page"
	// MsgUnauthorized is returned when a route requires credentials and none were valid.
	MsgUnauthorized = "Authentication required"
)

var errorPage = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Status}} {{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>{{.Message}}</p>
</body>
</html>
`))

// WantsJSON reports whether the response to c should be JSON rather than an HTML page.
// /api/ routes are always JSON; page routes switch with ?format=json or an Accept header
// that asks for JSON and not HTML.
func WantsJSON(c *gin.Context) bool {
	if strings.HasPrefix(c.Request.URL.Path, "/api/") {
		return true
	}
	if format := c.Query("format"); format != "" {
		return format == "json"
	}
	accept := c.GetHeader("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

// AbortWithError stops the chain and writes message as {"error": message} or as a minimal
// HTML page, depending on WantsJSON.
func AbortWithError(c *gin.Context, status int, message string) {
	if WantsJSON(c) {
		c.AbortWithStatusJSON(status, gin.H{"error": message})
		return
	}
	c.Abort()
	c.Render(status, render.HTML{
		Template: errorPage,
		Name:     "error",
		Data: gin.H{
			"Status":  status,
			"Title":   http.StatusText(status),
			"Message": message,
		},
	})
}
