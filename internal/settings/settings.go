// Package settings supplies channel credentials and tunables by key. The
// dispatch engine and provider adapters receive a Resolver rather than reading
// ambient configuration, so tests can substitute fixed values.
package settings

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Resolver looks up a configuration value by dotted key, returning the
// supplied default when the key is absent or empty.
type Resolver interface {
	Get(key, def string) string
}

// FromEnv returns a Resolver backed by environment variables. A dotted key
// such as "email.batch_size" resolves to <prefix>_EMAIL_BATCH_SIZE.
func FromEnv(prefix string) Resolver {
	prefix = strings.TrimSpace(prefix)
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return envResolver{prefix: prefix}
}

type envResolver struct {
	prefix string
}

func (r envResolver) Get(key, def string) string {
	name := r.prefix + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
	if val, ok := os.LookupEnv(name); ok {
		val = strings.TrimSpace(val)
		if val != "" {
			return val
		}
	}
	return def
}

// Static wraps a fixed map. Intended for tests and embedded callers.
func Static(values map[string]string) Resolver {
	return staticResolver(values)
}

type staticResolver map[string]string

func (r staticResolver) Get(key, def string) string {
	if val, ok := r[key]; ok && strings.TrimSpace(val) != "" {
		return strings.TrimSpace(val)
	}
	return def
}

// Int resolves key as an integer, falling back to def on absence or a parse
// failure.
func Int(r Resolver, key string, def int) int {
	raw := r.Get(key, "")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// Bool resolves key as a boolean.
func Bool(r Resolver, key string, def bool) bool {
	raw := r.Get(key, "")
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}

// Float resolves key as a float64.
func Float(r Resolver, key string, def float64) float64 {
	raw := r.Get(key, "")
	if raw == "" {
		return def
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return f
}

// Millis resolves key as a millisecond count and returns it as a duration.
func Millis(r Resolver, key string, def time.Duration) time.Duration {
	raw := r.Get(key, "")
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
