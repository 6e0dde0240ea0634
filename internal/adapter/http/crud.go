package http

import (
	"context"
	"net/http"

	"github.com/nexus-tt/nexus/internal/domain/engine"
)

// ---------------------------------------------------------------------------
// Generic handler factories for engine-scoped resources
// ---------------------------------------------------------------------------

// handleEngineList creates a handler that lists resources under {engine}.
func handleEngineList[T any](listFn func(ctx context.Context, sel engine.Selector) ([]T, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, ok := engineParam(w, r)
		if !ok {
			return
		}
		items, err := listFn(r.Context(), sel)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		if items == nil {
			items = []T{}
		}
		writeJSON(w, http.StatusOK, items)
	}
}

// handleEngineCreate creates a handler that decodes a JSON body and creates a
// resource under {engine}.
func handleEngineCreate[Req any, Res any](bodyLimit int64, createFn func(ctx context.Context, sel engine.Selector, req Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, ok := engineParam(w, r)
		if !ok {
			return
		}
		req, ok := readJSON[Req](w, r, bodyLimit)
		if !ok {
			return
		}
		res, err := createFn(r.Context(), sel, req)
		if err != nil {
			writeDomainError(w, err, "creation failed")
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleEngineUpdate creates a handler that decodes a JSON body and updates the
// resource named by URL param under {engine}.
func handleEngineUpdate[Req any, Res any](bodyLimit int64, param string, updateFn func(ctx context.Context, sel engine.Selector, id string, req Req) (*Res, error), notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, ok := engineParam(w, r)
		if !ok {
			return
		}
		req, ok := readJSON[Req](w, r, bodyLimit)
		if !ok {
			return
		}
		res, err := updateFn(r.Context(), sel, urlParam(r, param), req)
		if err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleEngineDelete creates a handler that deletes the resource named by URL
// param under {engine}.
func handleEngineDelete(param string, deleteFn func(ctx context.Context, sel engine.Selector, id string) error, notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sel, ok := engineParam(w, r)
		if !ok {
			return
		}
		if err := deleteFn(r.Context(), sel, urlParam(r, param)); err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleDelete creates a handler that deletes a resource by URL param "id".
func handleDelete(deleteFn func(ctx context.Context, id string) error, notFoundMsg string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deleteFn(r.Context(), urlParam(r, "id")); err != nil {
			writeDomainError(w, err, notFoundMsg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
