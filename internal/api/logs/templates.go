package logs

import (
	"embed"
	"html/template"
	"net/url"
	"time"

	"github.com/object-log/object-log/internal/db/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplates = template.Must(template.New("").Funcs(template.FuncMap{
	"timestamp": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05 MST")
	},
	"subjectURL": subjectURL,
}).ParseFS(templateFS, "templates/*.html"))

// subjectURL links a subject to the resolve redirect.
func subjectURL(ref models.SubjectRef) string {
	return "/object/" + url.PathEscape(ref.TypeTag) + "/" + url.PathEscape(ref.RecordID) + "/"
}
