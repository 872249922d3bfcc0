package log

import (
	"fmt"
	"time"
)

// Field is a single structured key/value attached to a log entry.
type Field struct {
	Key   string
	Value interface{}
}

// F builds a Field from any value.
func F(key string, value interface{}) Field { return Field{Key: key, Value: value} }

func Str(key, value string) Field             { return Field{Key: key, Value: value} }
func Int(key string, value int) Field         { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field     { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field       { return Field{Key: key, Value: value} }
func Any(key string, value interface{}) Field { return Field{Key: key, Value: value} }

// Dur renders a duration in its String form so text and JSON output agree.
func Dur(key string, d time.Duration) Field { return Field{Key: key, Value: d.String()} }

// Time renders t as RFC3339Nano in UTC; the zero time renders as "-".
func Time(key string, t time.Time) Field {
	if t.IsZero() {
		return Field{Key: key, Value: "-"}
	}
	return Field{Key: key, Value: t.UTC().Format(time.RFC3339Nano)}
}

// Err attaches an error under the "error" key. A nil error yields an empty value.
func Err(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: ""}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Component tags a log entry with the emitting component.
func Component(name string) Field { return Field{Key: ComponentKey, Value: name} }

// Stringer defers formatting of v until the entry is written.
func Stringer(key string, v fmt.Stringer) Field { return Field{Key: key, Value: v.String()} }
