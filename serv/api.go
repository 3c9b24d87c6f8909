package serv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/edmongo/edmongo/core"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/v2/bson"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

type resolveRequest struct {
	Path string `json:"path"`
}

type resolveResponse struct {
	Entity    string `json:"entity"`
	EdmPath   string `json:"edm_path"`
	MongoPath string `json:"mongo_path"`
	Unrolls   int    `json:"unrolls"`
	Key       bool   `json:"key"`
}

type pipelineResponse struct {
	Entity               string            `json:"entity"`
	Collection           string            `json:"collection"`
	Stages               []json.RawMessage `json:"stages"`
	UsedFields           []string          `json:"used_fields,omitempty"`
	ProducedFields       []string          `json:"produced_fields,omitempty"`
	DocumentShapeChanged bool              `json:"document_shape_changed"`
}

type planResponse struct {
	Kind       string `json:"kind"`
	Stage      string `json:"stage"`
	Summary    string `json:"summary"`
	UsesIndex  bool   `json:"uses_index"`
	Underlying string `json:"underlying"`
}

type explainResponse struct {
	Pipeline    *pipelineResponse `json:"pipeline"`
	Plan        planResponse      `json:"plan"`
	Explanation json.RawMessage   `json:"explanation,omitempty"`
}

func healthCheckHandler(s1 *HttpService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*service)

		if s.store != nil {
			c, cancel := context.WithTimeout(r.Context(), s.pingTimeout())
			defer cancel()

			if err := s.store.Ping(c); err != nil {
				s.log.Errorf("health check: %s", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
		}

		_, _ = w.Write([]byte("OK"))
	})
}

// resolveHandler returns the mongo path of ?path= or a {"path": ...} body
func (s1 *HttpService) resolveHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*service)
		name := entityParam(r)

		var req resolveRequest
		switch r.Method {
		case http.MethodGet:
			req.Path = r.URL.Query().Get("path")
		case http.MethodPost:
			if err := decodeBody(r, &req); err != nil {
				renderErr(w, http.StatusBadRequest, err)
				return
			}
		default:
			methodNotAllowed(w, http.MethodGet, http.MethodPost)
			return
		}

		res, err := s.eng.Resolve(r.Context(), name, req.Path)
		if err != nil {
			s.renderEngineErr(w, err)
			return
		}

		renderJSON(w, http.StatusOK, resolveResponse{
			Entity:    name,
			EdmPath:   res.EdmPath,
			MongoPath: res.MongoPath,
			Unrolls:   res.Unrolls,
			Key:       res.Key,
		})
	})
}

// pipelineHandler builds the aggregation pipeline for OData query options
// given as URL parameters (GET) or as a JSON request (POST)
func (s1 *HttpService) pipelineHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*service)

		opts, status, err := queryOptions(r)
		if err != nil {
			if status == http.StatusMethodNotAllowed {
				methodNotAllowed(w, http.MethodGet, http.MethodPost)
				return
			}
			renderErr(w, status, err)
			return
		}

		p, err := s.eng.BuildPipeline(r.Context(), entityParam(r), opts)
		if err != nil {
			s.renderEngineErr(w, err)
			return
		}

		res, err := newPipelineResponse(p)
		if err != nil {
			renderErr(w, http.StatusInternalServerError, err)
			return
		}
		renderJSON(w, http.StatusOK, res)
	})
}

// explainHandler builds a pipeline, asks the database how it would run
// it and classifies the winning plan
func (s1 *HttpService) explainHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*service)

		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		if s.store == nil {
			renderErr(w, http.StatusServiceUnavailable,
				errors.New("explain requires a configured mongo.uri"))
			return
		}

		opts, status, err := queryOptions(r)
		if err != nil {
			renderErr(w, status, err)
			return
		}

		p, err := s.eng.BuildPipeline(r.Context(), entityParam(r), opts)
		if err != nil {
			s.renderEngineErr(w, err)
			return
		}

		out, err := s.store.Explain(r.Context(), p.Collection, p.Stages)
		if err != nil {
			s.log.Errorf("explain: %s", err)
			renderErr(w, http.StatusBadGateway, err)
			return
		}

		cl, err := s.eng.Classify(r.Context(), out)
		if err != nil {
			s.renderEngineErr(w, err)
			return
		}

		pr, err := newPipelineResponse(p)
		if err != nil {
			renderErr(w, http.StatusInternalServerError, err)
			return
		}

		res := explainResponse{Pipeline: pr, Plan: newPlanResponse(cl)}
		if r.URL.Query().Get("verbose") == "true" {
			if res.Explanation, err = bson.MarshalExtJSON(out, false, false); err != nil {
				renderErr(w, http.StatusInternalServerError, err)
				return
			}
		}
		renderJSON(w, http.StatusOK, res)
	})
}

// classifyHandler classifies an explain document posted as JSON
func (s1 *HttpService) classifyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := s1.Load().(*service)

		if r.Method != http.MethodPost {
			methodNotAllowed(w, http.MethodPost)
			return
		}

		var doc map[string]interface{}
		if err := decodeBody(r, &doc); err != nil {
			renderErr(w, http.StatusBadRequest, err)
			return
		}

		cl, err := s.eng.Classify(r.Context(), doc)
		if err != nil {
			s.renderEngineErr(w, err)
			return
		}
		renderJSON(w, http.StatusOK, newPlanResponse(cl))
	})
}

// queryOptions reads OData options from the URL on GET and from a JSON
// body on POST. An empty POST body means no options.
func queryOptions(r *http.Request) (core.QueryOptions, int, error) {
	switch r.Method {
	case http.MethodGet:
		opts, err := core.ParseQuery(r.URL.Query())
		if err != nil {
			return opts, http.StatusBadRequest, err
		}
		return opts, http.StatusOK, nil

	case http.MethodPost:
		var req core.QueryRequest
		if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
			return core.QueryOptions{}, http.StatusBadRequest, err
		}
		opts, err := req.Options()
		if err != nil {
			return opts, http.StatusBadRequest, err
		}
		return opts, http.StatusOK, nil
	}
	return core.QueryOptions{}, http.StatusMethodNotAllowed,
		fmt.Errorf("method %s not allowed", r.Method)
}

func newPipelineResponse(p *core.Pipeline) (*pipelineResponse, error) {
	res := &pipelineResponse{
		Entity:               p.Entity,
		Collection:           p.Collection,
		Stages:               make([]json.RawMessage, 0, len(p.Stages)),
		UsedFields:           p.UsedFields,
		ProducedFields:       p.ProducedFields,
		DocumentShapeChanged: p.DocumentShapeChanged,
	}
	for _, st := range p.Stages {
		b, err := bson.MarshalExtJSON(st, false, false)
		if err != nil {
			return nil, fmt.Errorf("encoding stage: %w", err)
		}
		res.Stages = append(res.Stages, b)
	}
	return res, nil
}

func newPlanResponse(cl core.Classification) planResponse {
	return planResponse{
		Kind:       cl.Kind.String(),
		Stage:      cl.Stage,
		Summary:    cl.Summary(),
		UsesIndex:  cl.UsesIndex(),
		Underlying: cl.Underlying().Kind.String(),
	}
}

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// errorStatus maps engine errors to HTTP status codes
func errorStatus(err error) int {
	var pe *core.PathError
	var se *core.ShapeError

	switch {
	case errors.Is(err, core.ErrUnknownEntity):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNoPlan):
		return http.StatusUnprocessableEntity
	case errors.As(err, &pe), errors.As(err, &se):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (s *service) renderEngineErr(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	if status == http.StatusInternalServerError {
		s.log.Errorf("api: %s", err)
	} else {
		s.log.Debugf("api: %s", err)
	}
	renderErr(w, status, err)
}

func renderErr(w http.ResponseWriter, status int, err error) {
	renderJSON(w, status, errorResponse{Error: err.Error()})
}

func renderJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	for _, m := range allowed {
		w.Header().Add("Allow", m)
	}
	renderErr(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// entityParam reads the entity route parameter set by chi or by an
// http.ServeMux the routes were attached to.
func entityParam(r *http.Request) string {
	if name := chi.URLParam(r, "entity"); name != "" {
		return name
	}
	return r.PathValue("entity")
}
