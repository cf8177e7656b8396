package paynestsync

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RemoteDocument is one untyped record from a remote page. It is consumed
// immediately by a mapper and never persisted as-is. Nested values are
// reached through dotted paths ("property.id") so the extraction stays out
// of the business logic.
type RemoteDocument map[string]interface{}

func (d RemoteDocument) value(path string) (interface{}, bool) {
	if d == nil || path == "" {
		return nil, false
	}
	var current interface{} = map[string]interface{}(d)
	for _, part := range strings.Split(path, ".") {
		node, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = node[part]
		if !ok {
			return nil, false
		}
	}
	if current == nil {
		return nil, false
	}
	return current, true
}

// GetString returns "" for absent, null or non-string-coercible values.
// The literal placeholder "undefined" the remote emits for unset fields is
// treated as absent.
func (d RemoteDocument) GetString(path string) string {
	v, ok := d.value(path)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "undefined") {
		return ""
	}
	return s
}

func (d RemoteDocument) GetBool(path string) bool {
	v, ok := d.value(path)
	if !ok {
		return false
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		switch strings.ToLower(strings.TrimSpace(b)) {
		case "true", "1", "yes", "y":
			return true
		}
	case float64:
		return b != 0
	}
	return false
}

// GetDecimal accepts both JSON numbers and numeric strings; anything else
// yields (zero, false).
func (d RemoteDocument) GetDecimal(path string) (decimal.Decimal, bool) {
	v, ok := d.value(path)
	if !ok {
		return decimal.Zero, false
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n), true
	case string:
		s := strings.TrimSpace(n)
		if s == "" || strings.EqualFold(s, "undefined") {
			return decimal.Zero, false
		}
		if dec, err := decimal.NewFromString(s); err == nil {
			return dec, true
		}
	}
	return decimal.Zero, false
}

var remoteDateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// GetTime tries the date layouts the remote is known to emit.
func (d RemoteDocument) GetTime(path string) (time.Time, bool) {
	s := d.GetString(path)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range remoteDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// GetDocuments returns a nested list of documents, never nil.
func (d RemoteDocument) GetDocuments(path string) []RemoteDocument {
	v, ok := d.value(path)
	if !ok {
		return []RemoteDocument{}
	}
	list, ok := v.([]interface{})
	if !ok {
		return []RemoteDocument{}
	}
	docs := make([]RemoteDocument, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]interface{}); ok {
			docs = append(docs, RemoteDocument(m))
		}
	}
	return docs
}

// FirstString returns the first non-empty value among the given paths.
func (d RemoteDocument) FirstString(paths ...string) string {
	for _, p := range paths {
		if s := d.GetString(p); s != "" {
			return s
		}
	}
	return ""
}
