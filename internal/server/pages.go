package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/a-h/templ"

	"github.com/conneroisu/assetforge/internal/scheduler"
)

const pageStyle = `body{font-family:system-ui,sans-serif;margin:2rem auto;max-width:48rem;padding:0 1rem;color:#222}` +
	`h1{font-size:1.4rem}ul{list-style:none;padding:0}li{padding:.2rem 0}a{color:#0a58ca;text-decoration:none}` +
	`pre{background:#f6f6f6;padding:.75rem;overflow:auto}.failed{color:#b00020}small{color:#666}`

// listing is one entry of a directory index.
type listing struct {
	Name  string
	Dir   bool
	Size  int64
	Href  string
	Human string
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html lang="en"><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+`</title><style>`+pageStyle+`</style></head><body>`); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)
		return err
	})
}

// directoryIndex renders the contents of a destination directory.
func directoryIndex(urlPath string, entries []listing) templ.Component {
	title := "Index of " + urlPath

	return layout(title, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>`+templ.EscapeString(title)+`</h1><ul>`); err != nil {
			return err
		}

		if urlPath != "/" {
			parent := path.Dir(path.Clean(urlPath))
			if parent != "/" {
				parent += "/"
			}
			if _, err := io.WriteString(w, `<li><a href="`+templ.EscapeString(parent)+`">../</a></li>`); err != nil {
				return err
			}
		}

		for _, e := range entries {
			name := e.Name
			if e.Dir {
				name += "/"
			}
			line := `<li><a href="` + templ.EscapeString(e.Href) + `">` + templ.EscapeString(name) + `</a>`
			if !e.Dir {
				line += ` <small>` + templ.EscapeString(e.Human) + `</small>`
			}
			if _, err := io.WriteString(w, line+`</li>`); err != nil {
				return err
			}
		}

		_, err := io.WriteString(w, `</ul>`)
		return err
	}))
}

// errorPage renders an HTTP error, plus the failures of the last build if
// there were any.
func errorPage(status int, message string, report *scheduler.Report) templ.Component {
	title := fmt.Sprintf("%d %s", status, http.StatusText(status))

	return layout(title, templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<h1>`+templ.EscapeString(title)+`</h1><p>`+templ.EscapeString(message)+`</p>`); err != nil {
			return err
		}

		if report == nil {
			return nil
		}

		for _, res := range report.Failed() {
			if _, err := io.WriteString(w, `<h2 class="failed">`+templ.EscapeString(res.Task)+` failed</h2><pre>`+
				templ.EscapeString(res.Error())+`</pre>`); err != nil {
				return err
			}
		}

		return nil
	}))
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message string) {
	var failed *scheduler.Report
	if report, _ := s.LastBuild(); report != nil && !report.Succeeded() {
		failed = report
	}

	templ.Handler(errorPage(status, message, failed), templ.WithStatus(status)).ServeHTTP(w, r)
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
