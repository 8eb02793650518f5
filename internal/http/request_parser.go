package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// RequestBodyParser decodes a request body that may arrive either as a
// form encoding or as JSON. htmx sends forms, scripted clients send JSON,
// and the status handlers accept both.
type RequestBodyParser struct {
	body   []byte
	json   map[string]any
	form   url.Values
	parsed bool
	err    error
}

// NewRequestBodyParser drains the request body and holds it for Parse.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	p.body, p.err = io.ReadAll(r.Body)
	return p
}

// Parse decodes the stored body. Bodies opening with '{' or '[' are taken
// as JSON, anything else as a form encoding. Repeat calls return the
// first result.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	switch {
	case p.err != nil:
	case len(p.body) == 0:
		p.form = url.Values{}
	case p.body[0] == '{' || p.body[0] == '[':
		p.json = map[string]any{}
		if err := json.Unmarshal(p.body, &p.json); err != nil {
			p.json = nil
			p.err = err
		}
	default:
		p.form, p.err = url.ParseQuery(string(p.body))
	}
	return p.err
}

// Get returns the sanitized string under key, from whichever encoding
// the body carried.
func (p *RequestBodyParser) Get(key string) string {
	var raw string
	switch {
	case p.json != nil:
		if v, ok := p.json[key]; ok {
			raw = stringValue(v)
		}
	case p.form != nil:
		raw = p.form.Get(key)
	}
	return strings.TrimSpace(sanitizeInput(raw))
}

// GetIDList returns the numeric values under key. Form bodies repeat the
// key (ids=1&ids=2), JSON bodies carry an array or a single number.
// Unparseable entries are skipped.
func (p *RequestBodyParser) GetIDList(key string) []int64 {
	var ids []int64
	for _, v := range p.values(key) {
		if id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// values collects the raw strings stored under key.
func (p *RequestBodyParser) values(key string) []string {
	switch {
	case p.json != nil:
		v, ok := p.json[key]
		if !ok {
			return nil
		}
		if arr, ok := v.([]any); ok {
			out := make([]string, 0, len(arr))
			for _, item := range arr {
				out = append(out, stringValue(item))
			}
			return out
		}
		return []string{stringValue(v)}
	case p.form != nil:
		return p.form[key]
	}
	return nil
}

// IsJSON reports whether the parsed body was JSON.
func (p *RequestBodyParser) IsJSON() bool {
	return p.json != nil
}

// stringValue renders a decoded JSON scalar the way it would appear as a
// form value. Numbers decode as float64, so integers come back unpadded.
func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// ParseFormOrFail parses the request form, returning a ready error
// response on failure and nil on success.
func ParseFormOrFail(r *http.Request) *HXResponse {
	if err := r.ParseForm(); err != nil {
		return BadRequestError("Invalid request format")
	}
	return nil
}
