// Package web embeds the static front-end page.
package web

import (
	"embed"
	"net/http"
)

//go:embed static/index.html
var static embed.FS

// IndexHandler serves the incident form at "/" and 404 for any other path.
func IndexHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		http.ServeFileFS(w, r, static, "static/index.html")
	})
}
