package web

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetsContainStylesAndImages(t *testing.T) {
	for _, name := range []string{"css/app.css", "images/logo.svg"} {
		_, err := fs.Stat(Assets(), name)
		assert.NoError(t, err, name)
	}
}

func TestTemplatesEmbedded(t *testing.T) {
	for _, name := range []string{"templates/layouts/base.html", "templates/pages/login.html", "templates/pages/signup.html", "templates/pages/forbidden.html"} {
		_, err := fs.Stat(Templates, name)
		assert.NoError(t, err, name)
	}
}
