// Package localstore serves the subset of the Nitrate XML-RPC API used by
// the tcms package from a local SQLite database. It backs offline use of
// the command line tool and the integration tests.
package localstore

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/CaliLuke/go-nitrate/remote"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// FaultBadRequest is returned for malformed parameters.
const FaultBadRequest = 400

// FaultNoMethod is returned for methods the store does not implement.
const FaultNoMethod = 501

type handler func(ctx context.Context, params []any) (any, error)

// Store is an in-process Nitrate server. It implements remote.Caller.
type Store struct {
	db  *sql.DB
	log *slog.Logger
	now func() time.Time

	mu      sync.Mutex
	me      int
	calls   int
	methods map[string]handler
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for call tracing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithCurrentUser sets the id of the user returned by User.get_me and
// recorded as author of new objects.
func WithCurrentUser(id int) Option {
	return func(s *Store) { s.me = id }
}

// WithClock sets the time source used for run stop dates.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens or creates the database at path. An empty path or ":memory:"
// gives a private in-memory database.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One connection: every in-memory connection would see its own database.
	db.SetMaxOpenConns(1)
	if _, err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	s := &Store{db: db, log: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.methods = s.register()
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Calls returns the number of calls served.
func (s *Store) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SetCurrentUser changes the user returned by User.get_me.
func (s *Store) SetCurrentUser(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.me = id
}

func (s *Store) currentUser() int {
	return s.me
}

// Call implements remote.Caller. Calls are served one at a time.
func (s *Store) Call(ctx context.Context, method string, params ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.calls++
	h, ok := s.methods[method]
	if !ok {
		return nil, &remote.Fault{Code: FaultNoMethod, Message: "method not supported: " + method}
	}
	s.log.Debug("serving "+method, "params", params)
	return h(ctx, params)
}

// --- Tables ---

// table names one record kind and the key holding its id.
type table struct {
	kind  string
	name  string
	idKey string
}

var (
	products   = table{kind: "product", name: "Product", idKey: "id"}
	versions   = table{kind: "version", name: "Version", idKey: "id"}
	builds     = table{kind: "build", name: "Build", idKey: "build_id"}
	categories = table{kind: "category", name: "Category", idKey: "id"}
	users      = table{kind: "user", name: "User", idKey: "id"}
	testPlans  = table{kind: "testplan", name: "TestPlan", idKey: "plan_id"}
	testRuns   = table{kind: "testrun", name: "TestRun", idKey: "run_id"}
	testCases  = table{kind: "testcase", name: "TestCase", idKey: "case_id"}
	caseRuns   = table{kind: "caserun", name: "TestCaseRun", idKey: "case_run_id"}
	bugs       = table{kind: "bug", name: "Bug", idKey: "id"}
)

var tables = map[string]table{}

func init() {
	for _, t := range []table{products, versions, builds, categories, users, testPlans, testRuns, testCases, caseRuns, bugs} {
		tables[t.kind] = t
	}
}

func notFound(t table, id any) error {
	return &remote.Fault{Code: remote.FaultNotFound, Message: fmt.Sprintf("%s matching query does not exist: %v", t.name, id)}
}

func badRequest(format string, args ...any) error {
	return &remote.Fault{Code: FaultBadRequest, Message: fmt.Sprintf(format, args...)}
}

// --- Records ---

func encode(rec remote.Record) ([]byte, error) {
	return msgpack.Marshal(map[string]any(rec))
}

func decode(data []byte) (remote.Record, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return remote.Record(rec), nil
}

func (s *Store) get(ctx context.Context, t table, id int) (remote.Record, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM records WHERE kind = ? AND id = ?`, t.kind, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, notFound(t, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %d: %w", t.kind, id, err)
	}
	return decode(data)
}

func (s *Store) exists(ctx context.Context, t table, id int) error {
	_, err := s.get(ctx, t, id)
	return err
}

func (s *Store) list(ctx context.Context, t table) ([]remote.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM records WHERE kind = ? ORDER BY id`, t.kind)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", t.kind, err)
	}
	defer rows.Close()
	var out []remote.Record
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("list %s: %w", t.kind, err)
		}
		rec, err := decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// put stores rec under the id held in its id key.
func (s *Store) put(ctx context.Context, t table, rec remote.Record) error {
	id, err := rec.Int(t.idKey)
	if err != nil {
		return fmt.Errorf("put %s: %w", t.kind, err)
	}
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("put %s %d: %w", t.kind, id, err)
	}
	if _, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO records (kind, id, data) VALUES (?, ?, ?)`, t.kind, id, data); err != nil {
		return fmt.Errorf("put %s %d: %w", t.kind, id, err)
	}
	return nil
}

// insert assigns the next free id to rec and stores it.
func (s *Store) insert(ctx context.Context, t table, rec remote.Record) (remote.Record, error) {
	var next int
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) + 1 FROM records WHERE kind = ?`, t.kind).Scan(&next); err != nil {
		return nil, fmt.Errorf("insert %s: %w", t.kind, err)
	}
	rec[t.idKey] = next
	if err := s.put(ctx, t, rec); err != nil {
		return nil, err
	}
	return s.get(ctx, t, next)
}

func (s *Store) remove(ctx context.Context, t table, id int) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE kind = ? AND id = ?`, t.kind, id); err != nil {
		return fmt.Errorf("delete %s %d: %w", t.kind, id, err)
	}
	return nil
}

// --- Links ---

func (s *Store) link(ctx context.Context, rel string, owner int, members ...string) error {
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO links (rel, owner, member) VALUES (?, ?, ?)`, rel, owner, m); err != nil {
			return fmt.Errorf("link %s %d: %w", rel, owner, err)
		}
	}
	return nil
}

func (s *Store) unlink(ctx context.Context, rel string, owner int, members ...string) error {
	for _, m := range members {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE rel = ? AND owner = ? AND member = ?`, rel, owner, m); err != nil {
			return fmt.Errorf("unlink %s %d: %w", rel, owner, err)
		}
	}
	return nil
}

func (s *Store) members(ctx context.Context, rel string, owner int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM links WHERE rel = ? AND owner = ? ORDER BY member`, rel, owner)
	if err != nil {
		return nil, fmt.Errorf("members %s %d: %w", rel, owner, err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) owners(ctx context.Context, rel, member string) ([]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT owner FROM links WHERE rel = ? AND member = ? ORDER BY owner`, rel, member)
	if err != nil {
		return nil, fmt.Errorf("owners %s %s: %w", rel, member, err)
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) memberIDs(ctx context.Context, rel string, owner int) ([]int, error) {
	ms, err := s.members(ctx, rel, owner)
	if err != nil {
		return nil, err
	}
	ids := make([]int, 0, len(ms))
	for _, m := range ms {
		id, err := strconv.Atoi(m)
		if err != nil {
			return nil, fmt.Errorf("members %s %d: %w", rel, owner, err)
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}
