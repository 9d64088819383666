// Package ingest turns raw RPZ package bytes into deduplicated experiment
// rows with their bytes stored in the object store.
package ingest

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/platform/metrics"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/SecurityAnalysts/reproserver/internal/rpz"
	"github.com/minio/minio-go/v7"
)

// ObjectPutter is the slice of the object-store client the pipeline needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Pipeline ingests package bytes: hash, dedup against stored experiments,
// parse metadata, persist bytes and rows.
type Pipeline struct {
	experiments repo.ExperimentStore
	objects     ObjectPutter
	bucket      string
	metrics     *metrics.Registry
	now         func() time.Time
}

// New builds a pipeline storing package bytes in the given bucket. A nil
// metrics registry gets a private one.
func New(experiments repo.ExperimentStore, objects ObjectPutter, bucket string, m *metrics.Registry) *Pipeline {
	if m == nil {
		m = metrics.New()
	}
	return &Pipeline{
		experiments: experiments,
		objects:     objects,
		bucket:      bucket,
		metrics:     m,
		now:         time.Now,
	}
}

// Ingest stores the package and returns its experiment row. Content already
// known by hash is reused without parsing or writing anything. Two concurrent
// ingests of the same bytes both succeed and converge on one row.
func (p *Pipeline) Ingest(ctx context.Context, content []byte, filename string) (domain.Experiment, error) {
	started := p.now()

	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	existing, err := p.experiments.GetByHash(ctx, hash)
	switch {
	case err == nil:
		p.metrics.UploadsDeduplicated.Inc()
		if err := p.experiments.TouchLastAccess(ctx, hash, p.now().UTC()); err != nil {
			return domain.Experiment{}, fmt.Errorf("touch experiment %s: %w", hash, err)
		}
		return existing, nil
	case err != repo.ErrNotFound:
		return domain.Experiment{}, fmt.Errorf("look up experiment %s: %w", hash, err)
	}

	meta, err := rpz.ExtractMetadata(bytes.NewReader(content))
	if err != nil {
		return domain.Experiment{}, err
	}

	experiment := domain.Experiment{
		Hash:       hash,
		Parameters: meta.Parameters,
		Paths:      meta.Paths,
		LastAccess: p.now().UTC(),
	}
	if err := experiment.Validate(); err != nil {
		return domain.Experiment{}, err
	}

	// The object is keyed by content hash, so a concurrent ingest of the
	// same bytes writes the same object and the put stays idempotent.
	_, err = p.objects.PutObject(ctx, p.bucket, hash, bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return domain.Experiment{}, fmt.Errorf("store package %s: %w", hash, err)
	}

	err = p.experiments.Create(ctx, experiment)
	switch {
	case err == repo.ErrAlreadyExists:
		// Lost the insert race; the winner's row is equivalent.
		p.metrics.UploadsDeduplicated.Inc()
		winner, err := p.experiments.GetByHash(ctx, hash)
		if err != nil {
			return domain.Experiment{}, fmt.Errorf("re-read experiment %s: %w", hash, err)
		}
		return winner, nil
	case err != nil:
		return domain.Experiment{}, fmt.Errorf("create experiment %s: %w", hash, err)
	}

	p.metrics.UploadsStored.Inc()
	p.metrics.IngestDuration.Observe(time.Since(started).Seconds())
	return experiment, nil
}

// Hash returns the lowercase hex SHA-256 content hash used as the experiment
// and object-store key for the given bytes.
func Hash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
