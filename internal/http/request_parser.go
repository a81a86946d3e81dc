// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// rollup selections from query strings and budget entries from JSON or
// form-encoded bodies.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"fibudget/internal/core"
	"fibudget/internal/services"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 1 << 20

var errInvalidLevel = errors.New("invalid level")

// ParseRollupParams reads path, version and level from a query string. An
// absent level means the deepest level; a malformed one is an error.
func ParseRollupParams(query url.Values) (services.RollupRequest, error) {
	req := services.RollupRequest{
		Path:    sanitizeInput(query.Get("path")),
		Version: sanitizeInput(query.Get("version")),
	}
	if v := strings.TrimSpace(query.Get("level")); v != "" {
		level, err := core.ParseLevel(v)
		if err != nil {
			return services.RollupRequest{}, fmt.Errorf("%w: %q", errInvalidLevel, v)
		}
		req.Level = level
	}
	return req, nil
}

// SaveBudgetBody is the payload of POST /api/budget.
type SaveBudgetBody struct {
	LineItemID string                `json:"line_item_id"`
	Path       string                `json:"path"`
	Version    string                `json:"version"`
	Mode       string                `json:"mode"`
	Annual     any                   `json:"annual"`
	Monthly    []any                 `json:"monthly"`
	Items      []core.ZeroBasedInput `json:"items"`
}

// Request converts the body into a service request. Numeric fields are
// passed through untouched; the distribution strategies coerce them.
func (b SaveBudgetBody) Request() services.SaveRequest {
	return services.SaveRequest{
		LineItemID: sanitizeInput(b.LineItemID),
		Path:       sanitizeInput(b.Path),
		Version:    sanitizeInput(b.Version),
		Mode:       core.EditMode(strings.ToLower(strings.TrimSpace(b.Mode))),
		EntryValues: services.EntryValues{
			Annual:  b.Annual,
			Monthly: b.Monthly,
			Items:   b.Items,
		},
	}
}

// ZeroBasedBody is the payload of POST /api/zero-based/compute.
type ZeroBasedBody struct {
	Items []core.ZeroBasedInput `json:"items"`
}

// TemplateBody is the payload of POST /api/templates.
type TemplateBody struct {
	Name        string                `json:"name"`
	AccountPath string                `json:"account_path"`
	Items       []core.ZeroBasedInput `json:"items"`
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data.
type RequestBodyParser struct {
	body        []byte
	contentType string
	err         error
}

// NewRequestBodyParser creates a parser for the given request.
// It reads at most maxBodyBytes of the body once.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	return p
}

// IsJSON reports whether the body should be decoded as JSON.
func (p *RequestBodyParser) IsJSON() bool {
	if strings.HasPrefix(p.contentType, "application/json") {
		return true
	}
	trimmed := strings.TrimSpace(string(p.body))
	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// DecodeJSON decodes the body into dst. An empty body leaves dst untouched.
func (p *RequestBodyParser) DecodeJSON(dst any) error {
	if p.err != nil {
		return p.err
	}
	if len(strings.TrimSpace(string(p.body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.body, dst); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// Form parses the body as form-encoded data.
func (p *RequestBodyParser) Form() (url.Values, error) {
	if p.err != nil {
		return nil, p.err
	}
	return url.ParseQuery(string(p.body))
}

// ParseSaveBudget reads a budget entry from a JSON body or from a form with
// fields line_item_id, path, version, mode, annual and repeated monthly
// values. Zero-based items are only accepted as JSON.
func ParseSaveBudget(w http.ResponseWriter, r *http.Request) (SaveBudgetBody, error) {
	p := NewRequestBodyParser(w, r)
	var body SaveBudgetBody
	if p.IsJSON() {
		err := p.DecodeJSON(&body)
		return body, err
	}

	form, err := p.Form()
	if err != nil {
		return body, fmt.Errorf("invalid form body: %w", err)
	}
	body.LineItemID = form.Get("line_item_id")
	body.Path = form.Get("path")
	body.Version = form.Get("version")
	body.Mode = form.Get("mode")
	if v := form.Get("annual"); v != "" {
		body.Annual = v
	}
	for _, v := range form["monthly"] {
		body.Monthly = append(body.Monthly, v)
	}
	return body, nil
}

// DecodeJSONBody decodes a JSON request body into dst.
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	return NewRequestBodyParser(w, r).DecodeJSON(dst)
}
