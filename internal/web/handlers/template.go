package handlers

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"path"
	"time"

	"github.com/gorilla/csrf"

	"github.com/shindakun/arclogin/internal/models"
	"github.com/shindakun/arclogin/internal/version"
)

//go:embed templates
var templateFS embed.FS

var pageNames = []string{"home", "account", "login", "join", "404", "500"}

// TemplateData holds common data passed to templates
type TemplateData struct {
	Title     string
	User      *models.User
	Auth      models.AuthPageData // For the login and join forms
	CSRFField template.HTML       // Hidden csrf_token input, empty when CSRF is disabled
	Version   string
}

// templateSet is every page parsed together with the base layout
type templateSet struct {
	pages map[string]*template.Template
}

// templateFuncs returns custom template functions
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"date": func(t time.Time) string {
			return t.Format("January 2, 2006")
		},
	}
}

func parseTemplates() (*templateSet, error) {
	set := &templateSet{pages: make(map[string]*template.Template, len(pageNames))}
	layout := path.Join("templates", "layouts", "base.html")

	for _, name := range pageNames {
		tmpl, err := template.New("").Funcs(templateFuncs()).ParseFS(templateFS,
			layout,
			path.Join("templates", "pages", name+".html"),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
		}
		set.pages[name] = tmpl
	}
	return set, nil
}

// render executes a page with the base layout. The page is rendered into a
// buffer first so a template failure still produces a clean 500.
func (h *Handlers) render(w http.ResponseWriter, r *http.Request, status int, page string, data TemplateData) {
	data.CSRFField = csrf.TemplateField(r)
	data.Version = version.GetVersion()

	tmpl, ok := h.templates.pages[page]
	if !ok {
		h.logger.WithField("page", page).Error("unknown template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.WithError(err).WithField("page", page).Error("failed to render template")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
