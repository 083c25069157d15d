package webhooks

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var placeholderRe = regexp.MustCompile(`\{\{(\w+(?:\.\w+)*)\}\}`)

// Transform builds the request body for an event. With a template, every
// {{path}} in a string leaf is resolved against {eventType, data}; unresolved
// placeholders stay as written. Without one, the default envelope is used.
func Transform(eventType string, raw any, template any, now time.Time, source string) any {
	data := normalize(raw)
	if template == nil {
		return map[string]any{
			"event":     eventType,
			"timestamp": now.UTC().Format(time.RFC3339Nano),
			"data":      data,
			"source":    source,
		}
	}
	ctx := map[string]any{"eventType": eventType, "data": data}
	return render(normalize(template), ctx)
}

func render(node any, ctx map[string]any) any {
	switch v := node.(type) {
	case string:
		return interpolate(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = render(child, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = render(child, ctx)
		}
		return out
	default:
		return v
	}
}

func interpolate(s string, ctx map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	return placeholderRe.ReplaceAllStringFunc(s, func(m string) string {
		path := placeholderRe.FindStringSubmatch(m)[1]
		val, ok := lookup(ctx, path)
		if !ok {
			return m
		}
		return stringify(val)
	})
}

// lookup walks a dotted path through maps and arrays (numeric segments).
func lookup(root any, path string) (any, bool) {
	cur := root
	for _, seg := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(v) {
				return nil, false
			}
			cur = v[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64, bool, json.Number:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

// normalize round-trips through JSON so structs, typed maps and nested
// values resolve the same way as decoded payloads.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, float64, bool:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
