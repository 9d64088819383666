// Package repo declares the persistence contracts for experiments, uploads
// and runs.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
)

var (
	// ErrNotFound is returned for point lookups that match no row.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a uniquely-keyed insert lost a race;
	// callers re-read and use the winner's row.
	ErrAlreadyExists = errors.New("already exists")
)

// ExperimentStore manages the content-hash-deduplicated experiment rows and
// their declared parameters and paths.
type ExperimentStore interface {
	// Create inserts the experiment with its parameter and path rows.
	// A concurrent insert of the same hash yields ErrAlreadyExists with no
	// partial rows committed.
	Create(ctx context.Context, experiment domain.Experiment) error
	GetByHash(ctx context.Context, hash string) (domain.Experiment, error)
	TouchLastAccess(ctx context.Context, hash string, at time.Time) error
}

// UploadStore manages upload reference events.
type UploadStore interface {
	Create(ctx context.Context, upload domain.Upload) (int64, error)
	// Get returns the upload with its experiment row joined in.
	Get(ctx context.Context, id int64) (domain.Upload, error)
	// LatestByRepositoryKey returns the most recent upload for a repository
	// key, with its experiment joined in.
	LatestByRepositoryKey(ctx context.Context, key string) (domain.Upload, error)
	TouchLastAccess(ctx context.Context, id int64, at time.Time) error
}

// RunStore manages runs, their owned collections and the append-only log.
type RunStore interface {
	// Create inserts the run and its parameter/input/port rows in one
	// transaction and returns the new run id.
	Create(ctx context.Context, run domain.Run) (int64, error)
	Get(ctx context.Context, id int64) (domain.Run, error)
	// LogLines returns log lines with index >= from, in order.
	LogLines(ctx context.Context, runID int64, from int) ([]string, error)
}
