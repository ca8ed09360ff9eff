package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// APIError is a non-2xx response. Detail is for people, not for branching.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
}

const maxDetailRunes = 300

// ExtractDetail finds a readable message in an error body. It prefers the
// top-level detail, message or error field, then the first non-empty string
// anywhere in the document, then the raw text. fallback is used when the
// body yields nothing.
func ExtractDetail(body []byte, fallback string) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return fallback
	}
	if !json.Valid(body) {
		return truncate(string(body))
	}

	var top map[string]json.RawMessage
	if json.Unmarshal(body, &top) == nil {
		for _, key := range []string{"detail", "message", "error"} {
			if raw, ok := top[key]; ok {
				if s := firstString(raw); s != "" {
					return truncate(s)
				}
			}
		}
	}
	if s := firstString(body); s != "" {
		return truncate(s)
	}
	return fallback
}

// firstString walks the document in order and returns the first non-blank
// string value. Object keys are skipped.
func firstString(raw []byte) string {
	type level struct {
		object  bool
		wantKey bool
	}
	var stack []level
	dec := json.NewDecoder(bytes.NewReader(raw))
	for {
		tok, err := dec.Token()
		if err != nil {
			return ""
		}
		switch v := tok.(type) {
		case json.Delim:
			switch v {
			case '{':
				stack = append(stack, level{object: true, wantKey: true})
				continue
			case '[':
				stack = append(stack, level{})
				continue
			default:
				stack = stack[:len(stack)-1]
			}
		case string:
			if n := len(stack); n > 0 && stack[n-1].object && stack[n-1].wantKey {
				stack[n-1].wantKey = false
				continue
			}
			if strings.TrimSpace(v) != "" {
				return v
			}
		}
		if n := len(stack); n > 0 && stack[n-1].object {
			stack[n-1].wantKey = true
		}
	}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxDetailRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxDetailRunes]) + "…"
}
