// Package events projects internal execution values into the sanitized form
// that leaves the engine: every payload crossing to a consumer passes through
// Sanitize, which is total. It always produces a JSON-friendly value and
// never panics, whatever it is handed.
package events

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/Milix-M/DeepReSearch/pkg/schema"
)

// Exporter is implemented by domain types that know their external shape.
// Pause descriptors render as {id, value}, workflow state as its field map.
type Exporter interface {
	ExportFields() map[string]any
}

// Sanitize projects v into a JSON-friendly value. Exporters expand to their
// field maps, maps and slices recurse, primitives pass through, everything
// else renders via fmt.Sprintf.
func Sanitize(v any) any {
	if isNil(v) {
		return nil
	}
	switch t := v.(type) {
	case Exporter:
		return SanitizeMap(exportSafely(t))
	case map[string]any:
		return SanitizeMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Sanitize(item)
		}
		return out
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	case error:
		return t.Error()
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		return Sanitize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			out[i] = Sanitize(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[fmt.Sprintf("%v", iter.Key().Interface())] = Sanitize(iter.Value().Interface())
		}
		return out
	case reflect.Struct:
		return structValue(v)
	}
	return fmt.Sprintf("%v", v)
}

// structValue renders a plain struct through its JSON form, so message and
// plan values keep their field names instead of Go's %v rendering.
func structValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Sprintf("%v", v)
	}
	return out
}

// SanitizeMap sanitizes every value of a payload map. Nil maps stay nil.
func SanitizeMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Sanitize(v)
	}
	return out
}

// exportSafely shields the sanitizer from Exporter implementations that
// panic; totality matters more than the lost detail.
func exportSafely(e Exporter) (fields map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			fields = map[string]any{"value": fmt.Sprintf("%v", r)}
		}
	}()
	return e.ExportFields()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// messageKeys are probed in order when extracting a human-readable message
// from an error-marked payload.
var messageKeys = []string{"error", "message", "text", "details"}

// AnnotateError marks ev as error-level when its name or a top-level payload
// key carries a failure marker, attaching a best-effort extracted message.
// Annotation never halts the run; a step that produced no result at all
// fails through the engine's error path instead.
func AnnotateError(ev *schema.ProgressEvent) {
	if ev == nil || ev.Level == schema.LevelError {
		return
	}
	marked := errorMarked(ev.Name)
	for k := range ev.Payload {
		if errorMarked(k) {
			marked = true
			break
		}
	}
	if !marked {
		return
	}
	ev.Level = schema.LevelError
	if ev.Message == "" {
		ev.Message = extractMessage(ev.Payload)
	}
}

func errorMarked(s string) bool {
	lower := strings.ToLower(s)
	return strings.Contains(lower, "error") || strings.Contains(lower, "failed")
}

func extractMessage(payload map[string]any) string {
	for _, key := range messageKeys {
		v, ok := payload[key]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok {
			if s != "" {
				return s
			}
			continue
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}
