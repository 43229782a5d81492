package nitrate

import (
	"strconv"
	"strings"
)

// CacheLevel controls how much state a Session keeps between calls.
type CacheLevel int

const (
	// CacheNone pushes every change immediately and caches no objects.
	CacheNone CacheLevel = iota
	// CacheChanges buffers changes until Flush but caches no objects.
	CacheChanges
	// CacheObjects buffers changes and keeps one instance per entity.
	CacheObjects
	// CacheAll additionally bulk loads kinds that support it on first use.
	CacheAll
)

// DefaultCacheLevel is the level of a new Session.
const DefaultCacheLevel = CacheObjects

var levelNames = [...]string{"NONE", "CHANGES", "OBJECTS", "ALL"}

// String returns the level name.
func (l CacheLevel) String() string {
	if l.Valid() {
		return levelNames[l]
	}
	return "CacheLevel(" + strconv.Itoa(int(l)) + ")"
}

// Valid reports whether l is one of the defined levels.
func (l CacheLevel) Valid() bool {
	return l >= CacheNone && l <= CacheAll
}

// ParseCacheLevel accepts a level number (0 to 3) or name, case
// insensitive, with or without the CACHE_ prefix.
func ParseCacheLevel(s string) (CacheLevel, error) {
	trimmed := strings.TrimSpace(s)
	if n, err := strconv.Atoi(trimmed); err == nil {
		if l := CacheLevel(n); l.Valid() {
			return l, nil
		}
		return 0, &InvalidArgumentError{What: "cache level", Value: s}
	}
	name := strings.TrimPrefix(strings.ToUpper(trimmed), "CACHE_")
	for i, n := range levelNames {
		if n == name {
			return CacheLevel(i), nil
		}
	}
	return 0, &InvalidArgumentError{What: "cache level", Value: s}
}
