package cache

import (
	"encoding/json"
	"time"
)

// BytesCache stores marshaled values with a TTL. A zero ttl never expires.
type BytesCache interface {
	GetBytes(key string) (b []byte, ok bool, err error)
	SetBytes(key string, value []byte, ttl time.Duration) error
}

// GetJSON reads and unmarshals a cached value. Misses, read errors and
// undecodable entries all report ok=false.
func GetJSON[T any](c BytesCache, key string) (T, bool) {
	var v T
	b, ok, err := c.GetBytes(key)
	if err != nil || !ok {
		return v, false
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false
	}
	return v, true
}

// SetJSON marshals and stores a value under key.
func SetJSON(c BytesCache, key string, v any, ttl time.Duration) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SetBytes(key, b, ttl)
}
