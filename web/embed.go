package web

import (
	"embed"
	"io/fs"
)

// Templates embeds HTML templates.
//
//go:embed templates
var Templates embed.FS

// Static embeds stylesheets and images.
//
//go:embed static
var Static embed.FS

// Assets returns the static tree rooted at static/.
func Assets() fs.FS {
	sub, err := fs.Sub(Static, "static")
	if err != nil {
		panic(err)
	}
	return sub
}
