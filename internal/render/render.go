// Package render produces the HTML fragments swapped into the console page:
// the upload progress bar, the criteria preview, alerts and banners.
package render

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"github.com/lyallcooper/cvsubmit/internal/types"
)

//go:embed templates/*.html
var templateFS embed.FS

var fragments = template.Must(template.New("fragments").Funcs(template.FuncMap{
	"millis": func(d time.Duration) int64 { return d.Milliseconds() },
}).ParseFS(templateFS, "templates/*.html"))

// Alert kinds
const (
	AlertDanger  = "danger"
	AlertSuccess = "success"
)

// ProgressBar renders the progress bar and its status line
func ProgressBar(p types.ProgressView) (template.HTML, error) {
	return execute("progress", p)
}

// CriteriaPreview renders the tabbed preview with an editable criteria form.
// csrfToken is embedded in the update form.
func CriteriaPreview(p types.CriteriaPreview, csrfToken string) (template.HTML, error) {
	return execute("criteria", struct {
		Preview   types.CriteriaPreview
		CSRFToken string
	}{p, csrfToken})
}

// Alert renders an alert box, e.g. a criteria error
func Alert(kind, message string) (template.HTML, error) {
	return execute("alert", struct {
		Kind    string
		Message string
	}{kind, message})
}

// Banner renders a transient banner. The page script removes it after its TTL.
func Banner(b types.Banner) (template.HTML, error) {
	return execute("banner", b)
}

func execute(name string, data any) (template.HTML, error) {
	var buf bytes.Buffer
	if err := fragments.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return template.HTML(buf.String()), nil
}
