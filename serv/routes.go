package serv

import (
	"net/http"

	"github.com/edmongo/edmongo/plugin/otel"
	"github.com/rs/cors"
)

const (
	routeResolve  = "/api/v1/resolve"
	routePipeline = "/api/v1/pipeline"
	routeExplain  = "/api/v1/explain"
	routeClassify = "/api/v1/classify"
	healthRoute   = "/health"
)

type Mux interface {
	Handle(string, http.Handler)
	ServeHTTP(http.ResponseWriter, *http.Request)
}

// routesHandler is the main handler for all routes
func routesHandler(s1 *HttpService, mux Mux) (http.Handler, error) {
	s := s1.Load().(*service)

	// Healthcheck API
	mux.Handle(healthRoute, healthCheckHandler(s1))

	mux.Handle(routeResolve+"/{entity}", s1.apiV1(s1.resolveHandler(), "resolve"))
	mux.Handle(routePipeline+"/{entity}", s1.apiV1(s1.pipelineHandler(), "pipeline"))
	mux.Handle(routeExplain+"/{entity}", s1.apiV1(s1.explainHandler(), "explain"))
	mux.Handle(routeClassify, s1.apiV1(s1.classifyHandler(), "classify"))

	var h http.Handler = mux

	if len(s.conf.AllowedOrigins) != 0 {
		allowedHeaders := []string{
			"Content-Type", "Accept", "Accept-Encoding", "Cache-Control",
		}
		if len(s.conf.AllowedHeaders) != 0 {
			allowedHeaders = s.conf.AllowedHeaders
		}

		c := cors.New(cors.Options{
			AllowedOrigins: s.conf.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: allowedHeaders,
			Debug:          s.conf.DebugCORS,
		})
		h = c.Handler(h)
	}

	return setServerHeader(h), nil
}

// apiV1 wraps an API handler in a server span when tracing is enabled
func (s1 *HttpService) apiV1(h http.Handler, operation string) http.Handler {
	s := s1.Load().(*service)
	if s.conf.EnableTracing {
		return otel.HTTPHandler(h, operation)
	}
	return h
}
