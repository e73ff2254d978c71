package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"path"

	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/web"
)

// Engine renders HTML templates.
type Engine struct {
	pages map[string]*template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	Notice      string
	CurrentPath string
	Identity    shared.Identity
	Data        any
}

// NewEngine parses the embedded templates. Each page is parsed on top of
// its own copy of the layouts so pages may all define "content".
func NewEngine() (*Engine, error) {
	return newEngine(web.Templates)
}

func newEngine(fsys fs.FS) (*Engine, error) {
	layouts, err := template.ParseFS(fsys, "templates/layouts/*.html")
	if err != nil {
		return nil, fmt.Errorf("view: parse layouts: %w", err)
	}
	files, err := fs.Glob(fsys, "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	e := &Engine{pages: make(map[string]*template.Template, len(files))}
	for _, file := range files {
		clone, err := layouts.Clone()
		if err != nil {
			return nil, err
		}
		page, err := clone.ParseFS(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("view: parse %s: %w", file, err)
		}
		e.pages["pages/"+path.Base(file)] = page
	}
	return e, nil
}

// Render executes a named page with TemplateData. The page is rendered
// into a buffer first so a failing template never leaves a half-written
// response.
func (e *Engine) Render(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	page, ok := e.pages[name]
	if !ok {
		return fmt.Errorf("view: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := page.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
