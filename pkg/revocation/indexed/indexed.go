// Package indexed implements the dense, Postgres-backed revocation tree of spec §4.5.
//
// Unlike pkg/revocation/smt's sparse in-memory tree, this variant assigns each commitment
// a stable small-integer leaf index on first insert, persists leaves in two relational
// tables, and maintains an in-memory layer cache that is invalidated wholesale whenever its
// version falls behind the stored version -- safe against concurrent writers on other
// processes, at the cost of a full rebuild on cache miss. Grounded on
// certenIO-certen-validator/pkg/database/client.go's embedded-migration Client and
// repository_proof.go's transactional-write idiom, generalized from the teacher's anchor
// proof rows to indexed Merkle leaves.
package indexed

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/zkidlabs/verifier/pkg/field"
	"github.com/zkidlabs/verifier/pkg/poseidon"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrConfigMismatch is returned by Open when the stored tree depth differs from the
// requested depth (spec §4.5: "stored depth is immutable; mismatch at open => CONFIG_MISMATCH").
var ErrConfigMismatch = errors.New("indexed: configured depth does not match stored depth")

// ErrFull is returned by Add when the tree already holds 2^depth active leaves.
var ErrFull = errors.New("indexed: tree is at capacity")

// ErrInvalidDepth mirrors smt's bound, restricted further by spec §4.5 to [1,20].
var ErrInvalidDepth = errors.New("indexed: depth must be in [1,20]")

// ErrInvalidIdentifier is returned when a caller-supplied table/schema identifier fails the
// validation in spec §6 ("schema/table identifiers validated against ^[A-Za-z_][A-Za-z0-9_]*$").
var ErrInvalidIdentifier = errors.New("indexed: invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier checks a schema or table name against spec §6's identifier rule.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

const maxDepth = 20

// RootInfo mirrors smt.RootInfo for the indexed variant.
type RootInfo struct {
	Root      field.Element
	Version   uint64
	UpdatedAt time.Time
}

// Witness mirrors smt.Witness for the indexed variant.
type Witness struct {
	Root        field.Element
	PathIndices []int
	Siblings    []field.Element
}

// Tree is a dense, persistent, indexed Merkle revocation tree.
type Tree struct {
	db     *sql.DB
	logger *log.Logger

	mu         sync.RWMutex
	depth      int
	capacity   int64
	zeroHashes []field.Element

	// in-memory cache, rebuilt wholesale on version mismatch
	cacheVersion uint64
	nodes        map[cacheKey]field.Element
	commitments  map[string]int64 // commitment decimal string -> idx, active leaves only
	updatedAt    time.Time
}

type cacheKey struct {
	level int
	index int64
}

// Option configures Open.
type Option func(*Tree)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(t *Tree) { t.logger = logger }
}

// Open connects to databaseURL, applies pending migrations, and either initializes a fresh
// metadata row at depth, or verifies the stored depth matches -- failing with
// ErrConfigMismatch otherwise (spec §4.5).
func Open(ctx context.Context, databaseURL string, depth int, opts ...Option) (*Tree, error) {
	if depth < 1 || depth > maxDepth {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("indexed: open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexed: ping database: %w", err)
	}

	t := &Tree{
		db:          db,
		logger:      log.New(log.Writer(), "[indexed-revocation] ", log.LstdFlags),
		depth:       depth,
		capacity:    int64(1) << uint(depth),
		nodes:       make(map[cacheKey]field.Element),
		commitments: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(t)
	}

	zeroHashes := make([]field.Element, depth+1)
	zeroHashes[0] = field.Zero()
	for i := 1; i <= depth; i++ {
		zeroHashes[i] = poseidon.HashPair(zeroHashes[i-1], zeroHashes[i-1])
	}
	t.zeroHashes = zeroHashes

	if err := t.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := t.reconcileDepth(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := t.rebuildCache(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the underlying database connection.
func (t *Tree) Close() error {
	return t.db.Close()
}

func (t *Tree) migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("indexed: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		sqlBytes, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("indexed: read migration %s: %w", name, err)
		}
		tx, err := t.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("indexed: begin migration tx: %w", err)
		}
		if _, err := tx.ExecContext(ctx, string(sqlBytes)); err != nil {
			tx.Rollback()
			return fmt.Errorf("indexed: apply migration %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("indexed: commit migration %s: %w", name, err)
		}
	}
	return nil
}

// reconcileDepth inserts the metadata singleton row on first open, or verifies the stored
// depth matches the requested one.
func (t *Tree) reconcileDepth(ctx context.Context) error {
	var storedDepth int
	err := t.db.QueryRowContext(ctx, `SELECT depth FROM revocation_metadata WHERE id = 1`).Scan(&storedDepth)
	if errors.Is(err, sql.ErrNoRows) {
		_, err := t.db.ExecContext(ctx,
			`INSERT INTO revocation_metadata (id, version, depth, updated_at) VALUES (1, 0, $1, now())`,
			t.depth)
		if err != nil {
			return fmt.Errorf("indexed: initialize metadata: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexed: read metadata: %w", err)
	}
	if storedDepth != t.depth {
		return fmt.Errorf("%w: stored=%d requested=%d", ErrConfigMismatch, storedDepth, t.depth)
	}
	return nil
}

// rebuildCache reconstructs layers[0..depth] from the active rows in revocation_leaves,
// then records the metadata version the cache now reflects.
func (t *Tree) rebuildCache(ctx context.Context) error {
	rows, err := t.db.QueryContext(ctx, `SELECT idx, commitment FROM revocation_leaves WHERE active = true ORDER BY idx`)
	if err != nil {
		return fmt.Errorf("indexed: rebuild cache: query leaves: %w", err)
	}
	defer rows.Close()

	nodes := make(map[cacheKey]field.Element)
	commitments := make(map[string]int64)
	for rows.Next() {
		var idx int64
		var commitmentStr string
		if err := rows.Scan(&idx, &commitmentStr); err != nil {
			return fmt.Errorf("indexed: rebuild cache: scan: %w", err)
		}
		c, err := field.FromDecimalString(commitmentStr)
		if err != nil {
			return fmt.Errorf("indexed: rebuild cache: stored commitment %q unparseable: %w", commitmentStr, err)
		}
		nodes[cacheKey{0, idx}] = c
		commitments[commitmentStr] = idx
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var version int64
	var updatedAt time.Time
	err = t.db.QueryRowContext(ctx, `SELECT version, updated_at FROM revocation_metadata WHERE id = 1`).Scan(&version, &updatedAt)
	if err != nil {
		return fmt.Errorf("indexed: rebuild cache: read metadata: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes = nodes
	t.commitments = commitments
	t.cacheVersion = uint64(version)
	t.updatedAt = updatedAt
	t.recomputeInternalLevelsLocked()
	return nil
}

// recomputeInternalLevelsLocked folds leaf-level nodes up to the root. Called with t.mu
// already held for writing.
func (t *Tree) recomputeInternalLevelsLocked() {
	for level := 0; level < t.depth; level++ {
		parents := make(map[int64]field.Element)
		seen := make(map[int64]bool)
		for k := range t.nodes {
			if k.level != level {
				continue
			}
			parentIdx := k.index / 2
			if seen[parentIdx] {
				continue
			}
			seen[parentIdx] = true
			left := t.readLocked(level, parentIdx*2)
			right := t.readLocked(level, parentIdx*2+1)
			parents[parentIdx] = poseidon.HashPair(left, right)
		}
		for idx, v := range parents {
			k := cacheKey{level + 1, idx}
			if v.Equal(t.zeroHashes[level+1]) {
				delete(t.nodes, k)
			} else {
				t.nodes[k] = v
			}
		}
	}
}

func (t *Tree) readLocked(level int, index int64) field.Element {
	if v, ok := t.nodes[cacheKey{level, index}]; ok {
		return v
	}
	return t.zeroHashes[level]
}

// ensureFresh compares the cache's version against the stored version and rebuilds the
// whole cache on mismatch -- the concurrency story named in spec §4.5.
func (t *Tree) ensureFresh(ctx context.Context) error {
	t.mu.RLock()
	cached := t.cacheVersion
	t.mu.RUnlock()

	var stored int64
	if err := t.db.QueryRowContext(ctx, `SELECT version FROM revocation_metadata WHERE id = 1`).Scan(&stored); err != nil {
		return fmt.Errorf("indexed: read metadata version: %w", err)
	}
	if uint64(stored) == cached {
		return nil
	}
	return t.rebuildCache(ctx)
}

// Add claims the smallest available leaf index for commitment and inserts it, all inside
// one transaction: claim -> write -> bump version -> commit (spec §4.5). Re-adding an
// already-active commitment is idempotent and does not change version.
func (t *Tree) Add(ctx context.Context, commitment field.Element) error {
	if err := t.ensureFresh(ctx); err != nil {
		return err
	}
	commitmentStr := commitment.String()

	t.mu.RLock()
	_, alreadyActive := t.commitments[commitmentStr]
	t.mu.RUnlock()
	if alreadyActive {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexed: add: begin tx: %w", err)
	}
	defer tx.Rollback()

	var activeCount int64
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM revocation_leaves WHERE active = true`).Scan(&activeCount); err != nil {
		return fmt.Errorf("indexed: add: count active: %w", err)
	}
	if activeCount >= t.capacity {
		return ErrFull
	}

	// Smallest-first reuse: prefer a freed (inactive) row; otherwise take the next idx.
	var idx int64
	var reuseRow bool
	err = tx.QueryRowContext(ctx, `SELECT idx FROM revocation_leaves WHERE active = false ORDER BY idx LIMIT 1 FOR UPDATE`).Scan(&idx)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		var maxIdx sql.NullInt64
		if err := tx.QueryRowContext(ctx, `SELECT max(idx) FROM revocation_leaves`).Scan(&maxIdx); err != nil {
			return fmt.Errorf("indexed: add: compute next idx: %w", err)
		}
		if maxIdx.Valid {
			idx = maxIdx.Int64 + 1
		} else {
			idx = 0
		}
	case err != nil:
		return fmt.Errorf("indexed: add: claim free idx: %w", err)
	default:
		reuseRow = true
	}

	if reuseRow {
		_, err = tx.ExecContext(ctx,
			`UPDATE revocation_leaves SET commitment = $1, active = true, updated_at = now() WHERE idx = $2`,
			commitmentStr, idx)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO revocation_leaves (idx, commitment, active, updated_at) VALUES ($1, $2, true, now())`,
			idx, commitmentStr)
	}
	if err != nil {
		return fmt.Errorf("indexed: add: write leaf: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE revocation_metadata SET version = version + 1, updated_at = now() WHERE id = 1`); err != nil {
		return fmt.Errorf("indexed: add: bump version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("indexed: add: commit: %w", err)
	}

	return t.rebuildCache(ctx)
}

// Remove marks commitment's leaf inactive, freeing its index for reuse. A no-op on an
// absent or already-inactive commitment, matching smt.Tree.Remove's idempotence.
func (t *Tree) Remove(ctx context.Context, commitment field.Element) error {
	if err := t.ensureFresh(ctx); err != nil {
		return err
	}
	commitmentStr := commitment.String()

	t.mu.RLock()
	_, active := t.commitments[commitmentStr]
	t.mu.RUnlock()
	if !active {
		return nil
	}

	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexed: remove: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE revocation_leaves SET active = false, updated_at = now() WHERE commitment = $1 AND active = true`,
		commitmentStr)
	if err != nil {
		return fmt.Errorf("indexed: remove: write leaf: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("indexed: remove: rows affected: %w", err)
	}
	if affected == 0 {
		return nil // raced with a concurrent remove; no-op
	}

	if _, err := tx.ExecContext(ctx, `UPDATE revocation_metadata SET version = version + 1, updated_at = now() WHERE id = 1`); err != nil {
		return fmt.Errorf("indexed: remove: bump version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("indexed: remove: commit: %w", err)
	}

	return t.rebuildCache(ctx)
}

// Contains reports whether commitment occupies an active leaf, against the current cache.
func (t *Tree) Contains(ctx context.Context, commitment field.Element) (bool, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.commitments[commitment.String()]
	return ok, nil
}

// GetRootInfo returns the current root, version, and last-update time.
func (t *Tree) GetRootInfo(ctx context.Context) (RootInfo, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return RootInfo{}, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return RootInfo{
		Root:      t.readLocked(t.depth, 0),
		Version:   t.cacheVersion,
		UpdatedAt: t.updatedAt,
	}, nil
}

// GetWitness returns a membership witness for commitment, walking the cached layers. A
// caller asking for an inactive or absent commitment gets (Witness{}, false), per spec §4.5.
func (t *Tree) GetWitness(ctx context.Context, commitment field.Element) (Witness, bool, error) {
	if err := t.ensureFresh(ctx); err != nil {
		return Witness{}, false, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	idx, ok := t.commitments[commitment.String()]
	if !ok {
		return Witness{}, false, nil
	}
	return t.witnessAtLocked(idx), true, nil
}

func (t *Tree) witnessAtLocked(idx int64) Witness {
	siblings := make([]field.Element, t.depth)
	pathIndices := make([]int, t.depth)
	cur := idx
	for level := 0; level < t.depth; level++ {
		isRight := cur%2 == 1
		var sibling int64
		if isRight {
			sibling = cur - 1
			pathIndices[level] = 1
		} else {
			sibling = cur + 1
			pathIndices[level] = 0
		}
		siblings[level] = t.readLocked(level, sibling)
		cur /= 2
	}
	return Witness{Root: t.readLocked(t.depth, 0), PathIndices: pathIndices, Siblings: siblings}
}

// VerifyWitness recomputes the path from leaf using poseidon_hash(left,right) and checks it
// yields w.Root, same law as smt.VerifyWitness.
func VerifyWitness(leafValue field.Element, w Witness) bool {
	cur := leafValue
	for i, sibling := range w.Siblings {
		if w.PathIndices[i] == 1 {
			cur = poseidon.HashPair(sibling, cur)
		} else {
			cur = poseidon.HashPair(cur, sibling)
		}
	}
	return cur.Equal(w.Root)
}
