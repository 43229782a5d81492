package nitrate

import (
	"context"
	"fmt"

	"github.com/CaliLuke/go-nitrate/remote"
)

// Fetcher returns the record of the entity with the given id.
type Fetcher func(ctx context.Context, s *Session, id int) (remote.Record, error)

// Kind describes one entity type: how it is named and which remote methods
// read and write it.
type Kind struct {
	// Name is the type name used in logs and errors, e.g. "TestCase".
	Name string
	// Prefix is the identifier prefix, e.g. "TC".
	Prefix string
	// IDKey is the record key holding the id, e.g. "case_id".
	IDKey string
	// Fetch loads one record by id. Nil means the kind cannot be fetched.
	Fetch Fetcher
	// Update is the remote method taking (id, changes). Empty means the
	// kind is read-only.
	Update string
	// All is the remote filter method used to bulk load the kind at
	// CacheAll. Empty disables bulk loading.
	All string
}

func (k *Kind) String() string {
	return k.Name
}

// GetByID returns a Fetcher calling method with the id as sole argument.
func GetByID(method string) Fetcher {
	return func(ctx context.Context, s *Session, id int) (remote.Record, error) {
		v, err := s.Call(ctx, method, id)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, ErrNoRecord
		}
		rec, err := remote.AsRecord(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", method, err)
		}
		return rec, nil
	}
}

// FilterByID returns a Fetcher calling a filter method with {key: id} and
// taking the first match.
func FilterByID(method, key string) Fetcher {
	return func(ctx context.Context, s *Session, id int) (remote.Record, error) {
		return FilterOne(ctx, s, method, remote.Record{key: id})
	}
}

// FilterOne calls a filter method and returns its first record, or
// ErrNoRecord when nothing matched.
func FilterOne(ctx context.Context, s *Session, method string, query remote.Record) (remote.Record, error) {
	v, err := s.Call(ctx, method, query)
	if err != nil {
		return nil, err
	}
	recs, err := remote.AsRecords(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(recs) == 0 {
		return nil, ErrNoRecord
	}
	return recs[0], nil
}
