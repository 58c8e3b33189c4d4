// This file implements utilities for parsing JSON request bodies. The
// body is read once up front; typed getters then pull fields out with
// the coercions the API tolerates, like numeric amounts sent as
// strings.

package http

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"splittrip/internal/core"
)

// maxBodySize caps JSON request bodies. CSV imports read the body
// directly and are not subject to this limit.
const maxBodySize = 1 << 20

// RequestBodyParser reads a JSON request body once and exposes typed
// accessors over it. An empty body parses as an empty object, so
// handlers can treat "no body" and "{}" the same way.
type RequestBodyParser struct {
	body     []byte
	jsonData map[string]any
	err      error
}

// NewRequestBodyParser creates a parser for the given request. It
// consumes the request body.
func NewRequestBodyParser(r *http.Request) *RequestBodyParser {
	p := &RequestBodyParser{}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		p.err = err
		return p
	}
	p.body = body
	return p
}

// Parse decodes the stored body. Must be called before any getter.
func (p *RequestBodyParser) Parse() error {
	if p.err != nil {
		return p.err
	}
	p.jsonData = make(map[string]any)
	if len(p.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
		p.err = err
		return err
	}
	return nil
}

// Has reports whether the body contained the given key at all.
func (p *RequestBodyParser) Has(key string) bool {
	_, ok := p.jsonData[key]
	return ok
}

// GetString returns the trimmed string value for key, or "" when the
// key is absent or not a string.
func (p *RequestBodyParser) GetString(key string) string {
	if v, ok := p.jsonData[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// GetBool returns the boolean value for key, or false when absent.
func (p *RequestBodyParser) GetBool(key string) bool {
	v, _ := p.jsonData[key].(bool)
	return v
}

// GetStringSlice returns the string items of a JSON array, trimmed.
// Non-string items are skipped.
func (p *RequestBodyParser) GetStringSlice(key string) []string {
	items, ok := p.jsonData[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, strings.TrimSpace(s))
		}
	}
	return out
}

// GetStringMap returns a JSON object's string-valued entries.
func (p *RequestBodyParser) GetStringMap(key string) map[string]string {
	obj, ok := p.jsonData[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

// GetAmount reads a monetary value that may arrive as a JSON number or
// a decimal string. Missing, malformed, and non-positive values all
// fail with core.ErrInvalidAmount so handlers produce one message.
func (p *RequestBodyParser) GetAmount(key string) (core.Money, error) {
	value, ok := p.jsonData[key]
	if !ok || value == nil {
		return core.Money{}, core.ErrInvalidAmount
	}
	switch v := value.(type) {
	case float64:
		money := core.MoneyFromFloat(v)
		if money.Cents <= 0 {
			return core.Money{}, core.ErrInvalidAmount
		}
		return money, nil
	case string:
		return core.ParseAmount(v)
	default:
		return core.Money{}, core.ErrInvalidAmount
	}
}
