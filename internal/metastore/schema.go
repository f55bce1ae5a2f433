// Package metastore is the SQL-backed metadata store collaborator named in
// §6: shards, indexes, segments, deletions, merge_jobs. Built on
// jmoiron/sqlx over database/sql, mirroring the teacher's pattern of a thin
// typed wrapper (see internal/metastore/model in the pack) around the
// underlying storage rather than a full ORM.
package metastore

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/nuclia/nidx/internal/nidxerrors"
	"github.com/nuclia/nidx/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS shards (
	id TEXT PRIMARY KEY
);

CREATE TABLE IF NOT EXISTS indexes (
	id TEXT PRIMARY KEY,
	shard_id TEXT NOT NULL,
	kind TEXT NOT NULL,
	config TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	index_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	records INTEGER NOT NULL,
	delete_at INTEGER,
	merge_job_id TEXT,
	index_metadata TEXT NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS deletions (
	index_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	keys TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS merge_jobs (
	id TEXT PRIMARY KEY,
	index_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	priority INTEGER NOT NULL,
	claimed_at INTEGER,
	finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_segments_index_id ON segments(index_id);
CREATE INDEX IF NOT EXISTS idx_deletions_index_id ON deletions(index_id);
CREATE INDEX IF NOT EXISTS idx_merge_jobs_index_id ON merge_jobs(index_id);
`

// Shard is one row of shards.
type Shard struct {
	ID string `db:"id"`
}

// Index is one row of indexes: config and metadata are opaque JSON blobs
// the caller decodes per kind (vector, paragraph, relation, text).
type Index struct {
	ID       string `db:"id"`
	ShardID  string `db:"shard_id"`
	Kind     string `db:"kind"`
	Config   string `db:"config"`
	Metadata string `db:"metadata"`
}

// Segment is one row of segments: delete_at and merge_job_id are nil while
// the segment is live and unclaimed.
type Segment struct {
	ID            string    `db:"id"`
	IndexID       string    `db:"index_id"`
	Seq           types.Seq `db:"seq"`
	Records       int       `db:"records"`
	DeleteAt      *int64    `db:"delete_at"`
	MergeJobID    *string   `db:"merge_job_id"`
	IndexMetadata string    `db:"index_metadata"`
}

// Deletion is one row of deletions: keys is a newline-joined list of the
// key prefixes deleted at seq.
type Deletion struct {
	IndexID string    `db:"index_id"`
	Seq     types.Seq `db:"seq"`
	Keys    string    `db:"keys"`
}

// MergeJob is one row of merge_jobs.
type MergeJob struct {
	ID         string    `db:"id"`
	IndexID    string    `db:"index_id"`
	Seq        types.Seq `db:"seq"`
	Priority   int       `db:"priority"`
	ClaimedAt  *int64    `db:"claimed_at"`
	FinishedAt *int64    `db:"finished_at"`
}

// Store wraps a sqlx.DB handle onto the schema above.
type Store struct {
	db *sqlx.DB
}

// Open opens (and migrates) a sqlite-backed metadata store at dsn, e.g.
// "file:nidx.db?_journal=WAL".
func Open(dsn string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, nidxerrors.Filesystem(err, "metastore: open %s", dsn)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, nidxerrors.Internal(err, "metastore: migrate schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for callers (scheduler, index cache)
// that need transactional multi-statement access.
func (s *Store) DB() *sqlx.DB { return s.db }

// InsertIndex registers a new index row.
func (s *Store) InsertIndex(ctx context.Context, idx Index) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO indexes (id, shard_id, kind, config, metadata) VALUES (:id, :shard_id, :kind, :config, :metadata)`, idx)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: insert index %s", idx.ID)
	}
	return nil
}

// GetIndex fetches one index row, or a NotFound error.
func (s *Store) GetIndex(ctx context.Context, id string) (Index, error) {
	var idx Index
	err := s.db.GetContext(ctx, &idx, `SELECT * FROM indexes WHERE id = ?`, id)
	if err == sql.ErrNoRows {
		return Index{}, nidxerrors.NotFound("metastore: index %s", id)
	}
	if err != nil {
		return Index{}, nidxerrors.Internal(err, "metastore: get index %s", id)
	}
	return idx, nil
}

// DeleteIndex removes an index row (used by the cache's reload-after-delete
// path, Scenario F of §8).
func (s *Store) DeleteIndex(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM indexes WHERE id = ?`, id); err != nil {
		return nidxerrors.Internal(err, "metastore: delete index %s", id)
	}
	return nil
}

// InsertSegment registers a newly created or merged segment.
func (s *Store) InsertSegment(ctx context.Context, seg Segment) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO segments (id, index_id, seq, records, delete_at, merge_job_id, index_metadata)
		 VALUES (:id, :index_id, :seq, :records, :delete_at, :merge_job_id, :index_metadata)`, seg)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: insert segment %s", seg.ID)
	}
	return nil
}

// SegmentsForIndex returns every live (delete_at IS NULL) segment of idx.
func (s *Store) SegmentsForIndex(ctx context.Context, indexID string) ([]Segment, error) {
	var segs []Segment
	err := s.db.SelectContext(ctx, &segs,
		`SELECT * FROM segments WHERE index_id = ? AND delete_at IS NULL ORDER BY seq`, indexID)
	if err != nil {
		return nil, nidxerrors.Internal(err, "metastore: list segments for %s", indexID)
	}
	return segs, nil
}

// MarkSegmentsDeleted flags ids with delete_at = atUnix (object-store files
// are purged after the grace period once no reader references them, §4.6).
func (s *Store) MarkSegmentsDeleted(ctx context.Context, ids []string, atUnix int64) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `UPDATE segments SET delete_at = ? WHERE id = ?`, atUnix, id); err != nil {
			return nidxerrors.Internal(err, "metastore: mark segment deleted %s", id)
		}
	}
	return nil
}

// InsertDeletion records a deletion-key prefix against an index at seq.
func (s *Store) InsertDeletion(ctx context.Context, d Deletion) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO deletions (index_id, seq, keys) VALUES (:index_id, :seq, :keys)`, d)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: insert deletion")
	}
	return nil
}

// DeletionsForIndex returns every deletion row for indexID, used both to
// hydrate a reader's delete trie and by the scheduler's deletion-window
// computation (§4.6 step 4).
func (s *Store) DeletionsForIndex(ctx context.Context, indexID string) ([]Deletion, error) {
	var dels []Deletion
	err := s.db.SelectContext(ctx, &dels, `SELECT * FROM deletions WHERE index_id = ? ORDER BY seq`, indexID)
	if err != nil {
		return nil, nidxerrors.Internal(err, "metastore: list deletions for %s", indexID)
	}
	return dels, nil
}

// InsertMergeJob queues a new merge job.
func (s *Store) InsertMergeJob(ctx context.Context, job MergeJob) error {
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO merge_jobs (id, index_id, seq, priority, claimed_at, finished_at)
		 VALUES (:id, :index_id, :seq, :priority, :claimed_at, :finished_at)`, job)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: insert merge job %s", job.ID)
	}
	return nil
}

// InsertMergeJobAndClaimSegments queues job and, in the same transaction,
// stamps every segment in segmentIDs with job.ID as its merge_job_id, so a
// later Plan pass's `merge_job_id IS NULL` eligibility check excludes them
// (§4.6's "inputs marked once assigned", mirroring the original's explicit
// segment.merge_job_id assignment at enqueue time).
func (s *Store) InsertMergeJobAndClaimSegments(ctx context.Context, job MergeJob, segmentIDs []string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: begin enqueue tx")
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx,
		`INSERT INTO merge_jobs (id, index_id, seq, priority, claimed_at, finished_at)
		 VALUES (:id, :index_id, :seq, :priority, :claimed_at, :finished_at)`, job); err != nil {
		return nidxerrors.Internal(err, "metastore: insert merge job %s", job.ID)
	}

	for _, id := range segmentIDs {
		if _, err := tx.ExecContext(ctx, `UPDATE segments SET merge_job_id = ? WHERE id = ?`, job.ID, id); err != nil {
			return nidxerrors.Internal(err, "metastore: claim segment %s for job %s", id, job.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return nidxerrors.Internal(err, "metastore: commit enqueue tx")
	}
	return nil
}

// ClaimMergeJob atomically claims the highest-priority unclaimed job for a
// worker, returning a NotFound error when none is ready.
func (s *Store) ClaimMergeJob(ctx context.Context, atUnix int64) (MergeJob, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return MergeJob{}, nidxerrors.Internal(err, "metastore: begin claim tx")
	}
	defer tx.Rollback()

	var job MergeJob
	err = tx.Get(&job, `SELECT * FROM merge_jobs WHERE claimed_at IS NULL ORDER BY priority DESC LIMIT 1`)
	if err == sql.ErrNoRows {
		return MergeJob{}, nidxerrors.NotFound("metastore: no unclaimed merge job")
	}
	if err != nil {
		return MergeJob{}, nidxerrors.Internal(err, "metastore: select claimable job")
	}

	if _, err := tx.Exec(`UPDATE merge_jobs SET claimed_at = ? WHERE id = ?`, atUnix, job.ID); err != nil {
		return MergeJob{}, nidxerrors.Internal(err, "metastore: claim job %s", job.ID)
	}
	if err := tx.Commit(); err != nil {
		return MergeJob{}, nidxerrors.Internal(err, "metastore: commit claim")
	}
	job.ClaimedAt = &atUnix
	return job, nil
}

// FinishMergeJob marks job done; callers follow this with MarkSegmentsDeleted
// on the job's input segments once the merge's output segment has been
// registered, superseding their claim rather than releasing it.
func (s *Store) FinishMergeJob(ctx context.Context, jobID string, atUnix int64) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE merge_jobs SET finished_at = ? WHERE id = ?`, atUnix, jobID); err != nil {
		return nidxerrors.Internal(err, "metastore: finish job %s", jobID)
	}
	return nil
}

// ExpireStaleClaims releases jobs whose lease has expired without
// finishing, per §5's "worker death" recovery: the row becomes
// re-takeable.
func (s *Store) ExpireStaleClaims(ctx context.Context, olderThanUnix int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE merge_jobs SET claimed_at = NULL WHERE claimed_at IS NOT NULL AND claimed_at < ? AND finished_at IS NULL`,
		olderThanUnix)
	if err != nil {
		return nidxerrors.Internal(err, "metastore: expire stale claims")
	}
	return nil
}
