package api

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>geticon</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 46rem; margin: 2rem auto; line-height: 1.5; padding: 0 1rem; }
code { background: #f3f3f3; padding: 0 .25rem; }
</style>
</head>
<body>
<h1>geticon</h1>
<p>Finds the best icon for a website by looking at its favicon, link tags, web app manifest,
browserconfig.xml and Open Graph image, and returns the highest quality one that actually decodes.</p>
<h2>Endpoints</h2>
<ul>
<li><code>GET /img?url=example.com&amp;size=64</code> returns the icon image.</li>
<li><code>GET /json?url=example.com&amp;size=64</code> returns every discovered icon and the chosen one.</li>
<li><code>GET /url/example.com</code> redirects to <code>/img</code>.</li>
<li><code>GET /health</code> reports status and cache statistics.</li>
<li><code>GET /metrics</code> exposes Prometheus metrics.</li>
</ul>
<p><code>size</code> is optional. Without it the largest good quality icon wins; with it the icon closest
to and not smaller than the requested size is preferred.</p>
<p>Responses carry an <code>ETag</code> and may be cached for an hour.</p>
{{if .Version}}<p><small>version {{.Version}}</small></p>{{end}}
</body>
</html>
`))

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	if err := indexTemplate.Execute(w, struct{ Version string }{Version: s.opts.Version}); err != nil {
		s.logger.Error("render index", zap.Error(err))
	}
}
