// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /img?url=&size= returns the best icon's bytes.
//   - GET /json?url=&size= returns the discovered icons and the winner as JSON.
//   - GET /url/{site} redirects to /img for the legacy path form.
//   - GET /health reports cache statistics; /healthz and /readyz serve probes.
//   - GET /metrics for Prometheus scraping.
package api
