package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmynk/payables/internal/apperr"
	"github.com/mmynk/payables/internal/auth"
	"github.com/mmynk/payables/internal/middleware"
	"github.com/mmynk/payables/internal/storage"
)

const (
	defaultPerPage = 50
	maxPerPage     = 200
)

type dataEnvelope struct {
	Data any   `json:"data"`
	Meta *meta `json:"meta,omitempty"`
}

type meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalPages int `json:"total_pages"`
}

type errorBody struct {
	Code    apperr.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, v any) {
	writeJSON(w, status, dataEnvelope{Data: v})
}

func writeList(w http.ResponseWriter, v any, total int, p storage.Page) {
	pages := 0
	if p.PerPage > 0 {
		pages = (total + p.PerPage - 1) / p.PerPage
	}
	writeJSON(w, http.StatusOK, dataEnvelope{
		Data: v,
		Meta: &meta{Total: total, Page: p.Page, PerPage: p.PerPage, TotalPages: pages},
	})
}

// writeError renders err in the error envelope. Internal causes are never
// rendered.
func writeError(w http.ResponseWriter, err error) {
	e := apperr.From(err)
	writeJSON(w, apperr.HTTPStatus(e.Code), map[string]errorBody{
		"error": {Code: e.Code, Message: e.Message, Details: e.Details},
	})
}

func principal(r *http.Request) auth.Principal {
	p, _ := middleware.PrincipalFrom(r.Context())
	return p
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperr.Validation("body", "request body exceeds %d bytes", maxBodyBytes)
		}
		return nil, apperr.Validation("body", "failed to read request body")
	}
	return data, nil
}

// decodeJSON reads a JSON object into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	data, err := readBody(w, r)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation("body", "invalid JSON body: %v", err)
	}
	return nil
}

func intParam(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperr.Validation(name, "%s must be a positive integer", name)
	}
	return n, nil
}

// pageParams reads page, per_page, sort and order. per_page above the
// maximum is capped.
func pageParams(r *http.Request) (storage.Page, error) {
	page, err := intParam(r, "page", 1)
	if err != nil {
		return storage.Page{}, err
	}
	perPage, err := intParam(r, "per_page", defaultPerPage)
	if err != nil {
		return storage.Page{}, err
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	q := r.URL.Query()
	p := storage.Page{Page: page, PerPage: perPage, Sort: q.Get("sort")}
	switch strings.ToLower(q.Get("order")) {
	case "", "asc":
	case "desc":
		p.Desc = true
	default:
		return storage.Page{}, apperr.Validation("order", "order must be asc or desc")
	}
	return p, nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Validation(name, "%s must be true or false", name)
	}
	return b, nil
}
