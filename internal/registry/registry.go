// Package registry stores encoded networks by name in a SQLite database.
package registry

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // database/sql driver
	// Deadlocks around the single SQLite connection are easy to introduce.
	sync "github.com/sasha-s/go-deadlock"
	"go.uber.org/zap"

	"github.com/born-ml/graphnet/internal/graph"
	"github.com/born-ml/graphnet/internal/logging"
	"github.com/born-ml/graphnet/internal/observability"
	"github.com/born-ml/graphnet/internal/serialization"
)

// MaxNameLen bounds network names.
const MaxNameLen = 128

// Errors returned by the registry.
var (
	ErrNotFound    = errors.New("network not found")
	ErrInvalidName = errors.New("invalid network name")
)

const schema = `CREATE TABLE IF NOT EXISTS networks (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	layers INTEGER NOT NULL,
	weights INTEGER NOT NULL,
	checksum TEXT NOT NULL,
	created_at TEXT NOT NULL,
	blob BLOB NOT NULL
)`

// Entry describes a stored network without its weights.
type Entry struct {
	ID        string
	Name      string
	Layers    int
	Weights   int
	Checksum  string // Hex SHA-256 of the encoded blob
	CreatedAt time.Time
}

// Registry is a named collection of networks. It is safe for concurrent use.
type Registry struct {
	db      *sql.DB
	mu      sync.Mutex
	logger  *zap.Logger
	metrics *observability.Collector
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(l) }
}

// WithMetrics records operation counts on c.
func WithMetrics(c *observability.Collector) Option {
	return func(r *Registry) { r.metrics = c }
}

// Open opens or creates the registry database at path.
// Use ":memory:" for a throwaway registry.
func Open(path string, opts ...Option) (*Registry, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open registry %s: %w", path, err)
	}
	// One connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create registry schema: %w", err)
	}

	r := &Registry{db: db, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("registry")
	return r, nil
}

// Close closes the underlying database.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.db.Close()
}

func validName(name string) error {
	if name == "" || len(name) > MaxNameLen {
		return fmt.Errorf("%w: length must be 1..%d", ErrInvalidName, MaxNameLen)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	}
	for _, c := range name {
		if unicode.IsControl(c) {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
		}
	}
	return nil
}

// Put encodes g and stores it under name, replacing any network with the same name.
func (r *Registry) Put(ctx context.Context, name string, g *graph.Graph) (entry Entry, err error) {
	defer func() { r.metrics.ObserveRegistry("put", err) }()

	if err := validName(name); err != nil {
		return Entry{}, err
	}
	blob, err := serialization.Marshal(g, map[string]string{"name": name})
	if err != nil {
		return Entry{}, fmt.Errorf("encode %q: %w", name, err)
	}
	header, err := serialization.ReadHeader(bytes.NewReader(blob))
	if err != nil {
		return Entry{}, fmt.Errorf("encode %q: %w", name, err)
	}

	entry = Entry{
		ID:        uuid.NewString(),
		Name:      name,
		Layers:    len(header.Layers),
		Weights:   g.WeightCount(),
		Checksum:  serialization.ChecksumHex(blob),
		CreatedAt: r.now().UTC(),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("begin put: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM networks WHERE name = ?`, name); err != nil {
		return Entry{}, fmt.Errorf("replace %q: %w", name, err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO networks (id, name, layers, weights, checksum, created_at, blob) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Name, entry.Layers, entry.Weights, entry.Checksum, entry.CreatedAt.Format(time.RFC3339Nano), blob)
	if err != nil {
		return Entry{}, fmt.Errorf("insert %q: %w", name, err)
	}
	if err = tx.Commit(); err != nil {
		return Entry{}, fmt.Errorf("commit put: %w", err)
	}

	r.logger.Debug("stored network",
		zap.String("name", name),
		zap.String("id", entry.ID),
		zap.Int("layers", entry.Layers),
		zap.Int("bytes", len(blob)))
	return entry, nil
}

// Get decodes the network stored under name.
func (r *Registry) Get(ctx context.Context, name string) (g *graph.Graph, err error) {
	defer func() { r.metrics.ObserveRegistry("get", err) }()

	var blob []byte
	var checksum string
	r.mu.Lock()
	err = r.db.QueryRowContext(ctx, `SELECT blob, checksum FROM networks WHERE name = ?`, name).Scan(&blob, &checksum)
	r.mu.Unlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", name, err)
	}

	if serialization.ChecksumHex(blob) != checksum {
		return nil, fmt.Errorf("get %q: %w", name, serialization.ErrChecksumMismatch)
	}
	g, err = serialization.Unmarshal(blob)
	if err != nil {
		return nil, fmt.Errorf("decode %q: %w", name, err)
	}
	return g, nil
}

// List returns all entries ordered by name.
func (r *Registry) List(ctx context.Context) (entries []Entry, err error) {
	defer func() { r.metrics.ObserveRegistry("list", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.QueryContext(ctx, `SELECT id, name, layers, weights, checksum, created_at FROM networks ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var e Entry
		var created string
		if err = rows.Scan(&e.ID, &e.Name, &e.Layers, &e.Weights, &e.Checksum, &created); err != nil {
			return nil, fmt.Errorf("scan network: %w", err)
		}
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("network %q has bad timestamp: %w", e.Name, err)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("list networks: %w", err)
	}
	return entries, nil
}

// Delete removes the network stored under name.
func (r *Registry) Delete(ctx context.Context, name string) (err error) {
	defer func() { r.metrics.ObserveRegistry("delete", err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.ExecContext(ctx, `DELETE FROM networks WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	r.logger.Debug("deleted network", zap.String("name", name))
	return nil
}
