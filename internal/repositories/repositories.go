// Package repositories resolves remote data-repository URLs (OSF, Zenodo)
// to canonical locators and fetches package bytes from them. Resolution of a
// previously-seen locator is a cache lookup on the stored uploads, not a
// re-download.
package repositories

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/platform/metrics"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
)

// Error is the repository taxonomy error: unrecognized URL, provider API
// failure, network failure, or missing file. Callers surface it as not-found.
type Error struct {
	Message string
	Cause   error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func repositoryError(cause error, format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Provider is one supported remote repository.
type Provider interface {
	// ID is the stable provider identifier used in repository keys and
	// routes (e.g. "osf.io").
	ID() string
	// Name is the human-readable repository name.
	Name() string
	Matches(rawURL string) bool
	// Resolve turns a matched URL into the provider's canonical path.
	Resolve(ctx context.Context, rawURL string) (string, error)
	// Fetch retrieves the package bytes for a canonical path, returning the
	// content, the suggested filename and the direct download link.
	Fetch(ctx context.Context, canonicalPath string) (io.ReadCloser, string, string, error)
	// DownloadLink derives the direct download link from a canonical path
	// without any network call.
	DownloadLink(canonicalPath string) string
	// PageURL derives the human-facing repository page for a canonical path.
	PageURL(canonicalPath string) string
}

// Ingester stores package bytes with content-hash deduplication.
type Ingester interface {
	Ingest(ctx context.Context, content []byte, filename string) (domain.Experiment, error)
}

// Resolver dispatches URLs across the registered providers in priority
// order and owns the upload cache keyed by repository key.
type Resolver struct {
	providers []Provider
	uploads   repo.UploadStore
	ingester  Ingester
	metrics   *metrics.Registry
	now       func() time.Time
}

func NewResolver(uploads repo.UploadStore, ingester Ingester, m *metrics.Registry, providers ...Provider) *Resolver {
	if len(providers) == 0 {
		providers = []Provider{NewOSF(nil), NewZenodo(nil, "")}
	}
	if m == nil {
		m = metrics.New()
	}
	return &Resolver{
		providers: providers,
		uploads:   uploads,
		ingester:  ingester,
		metrics:   m,
		now:       time.Now,
	}
}

// ParseURL finds the first provider recognizing the URL and returns its id
// and the canonical path.
func (r *Resolver) ParseURL(ctx context.Context, rawURL string) (string, string, error) {
	for _, p := range r.providers {
		if !p.Matches(rawURL) {
			continue
		}
		path, err := p.Resolve(ctx, rawURL)
		if err != nil {
			return "", "", err
		}
		return p.ID(), path, nil
	}
	return "", "", repositoryError(nil, "unrecognized URL")
}

// GetExperiment returns an upload for the given provider id and canonical
// path together with the direct download link. An existing upload for the
// same repository key is reused without any network call; otherwise the
// provider is fetched and the content ingested.
func (r *Resolver) GetExperiment(ctx context.Context, remoteAddr, providerID, canonicalPath string) (domain.Upload, string, error) {
	provider, err := r.provider(providerID)
	if err != nil {
		return domain.Upload{}, "", err
	}
	key := domain.RepositoryKey(providerID, canonicalPath)

	upload, err := r.uploads.LatestByRepositoryKey(ctx, key)
	switch {
	case err == nil:
		r.metrics.RepositoryCacheHits.Inc()
		now := r.now().UTC()
		if err := r.uploads.TouchLastAccess(ctx, upload.ID, now); err != nil {
			return domain.Upload{}, "", err
		}
		return upload, provider.DownloadLink(canonicalPath), nil
	case err != repo.ErrNotFound:
		return domain.Upload{}, "", err
	}

	r.metrics.RepositoryCacheMisses.Inc()
	body, filename, link, err := provider.Fetch(ctx, canonicalPath)
	if err != nil {
		r.metrics.RepositoryFetchErrors.Inc()
		return domain.Upload{}, "", err
	}
	defer body.Close()

	content, err := io.ReadAll(body)
	if err != nil {
		r.metrics.RepositoryFetchErrors.Inc()
		return domain.Upload{}, "", repositoryError(err, "download from %s failed", provider.Name())
	}

	experiment, err := r.ingester.Ingest(ctx, content, filename)
	if err != nil {
		return domain.Upload{}, "", err
	}

	upload = domain.Upload{
		ExperimentHash: experiment.Hash,
		Filename:       filename,
		SubmittedIP:    remoteAddr,
		RepositoryKey:  key,
		Timestamp:      r.now().UTC(),
	}
	id, err := r.uploads.Create(ctx, upload)
	if err != nil {
		return domain.Upload{}, "", err
	}
	upload.ID = id
	upload.Experiment = &experiment
	return upload, link, nil
}

// Name returns the human-readable name for a provider id.
func (r *Resolver) Name(providerID string) (string, error) {
	provider, err := r.provider(providerID)
	if err != nil {
		return "", err
	}
	return provider.Name(), nil
}

// PageURL returns the repository page for a resolved locator.
func (r *Resolver) PageURL(providerID, canonicalPath string) (string, error) {
	provider, err := r.provider(providerID)
	if err != nil {
		return "", err
	}
	return provider.PageURL(canonicalPath), nil
}

func (r *Resolver) provider(providerID string) (Provider, error) {
	for _, p := range r.providers {
		if p.ID() == providerID {
			return p, nil
		}
	}
	return nil, repositoryError(nil, "unknown repository %q", providerID)
}
