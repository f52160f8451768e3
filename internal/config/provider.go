package config

import (
	"strconv"
	"time"
)

// Provider exposes typed key lookups. Every getter returns def when the key
// is missing or cannot be converted.
type Provider interface {
	GetString(key, def string) string
	GetInt64(key string, def int64) int64
	GetFloat64(key string, def float64) float64
	GetBool(key string, def bool) bool
	GetDuration(key string, def time.Duration) time.Duration
}

// MapProvider is a Provider over a flat map of dotted keys.
type MapProvider map[string]interface{}

var _ Provider = MapProvider(nil)

func (m MapProvider) GetString(key, def string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case nil:
	default:
		if s := toString(v); s != "" {
			return s
		}
	}
	return def
}

func (m MapProvider) GetInt64(key string, def int64) int64 {
	switch v := m[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func (m MapProvider) GetFloat64(key string, def float64) float64 {
	switch v := m[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func (m MapProvider) GetBool(key string, def bool) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func (m MapProvider) GetDuration(key string, def time.Duration) time.Duration {
	switch v := m[key].(type) {
	case time.Duration:
		return v
	case int64:
		return time.Duration(v)
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Duration:
		return t.String()
	default:
		return ""
	}
}
