package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
)

const selectUploadQuery = `SELECT u.id, u.experiment_hash, u.filename, u.submitted_ip,
		u.repository_key, u.created_at, u.last_access, e.last_access
	FROM uploads u JOIN experiments e ON e.hash = u.experiment_hash`

const selectLatestUploadByKeyQuery = selectUploadQuery + `
	WHERE u.repository_key = $1
	ORDER BY u.id DESC
	LIMIT 1`

type UploadStore struct {
	db *sql.DB
}

func NewUploadStore(db *sql.DB) *UploadStore {
	if db == nil {
		return nil
	}
	return &UploadStore{db: db}
}

func (s *UploadStore) Create(ctx context.Context, upload domain.Upload) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("upload store not initialized")
	}
	if err := upload.Validate(); err != nil {
		return 0, err
	}
	now := normalizeTime(upload.Timestamp)
	lastAccess := upload.LastAccess
	if lastAccess.IsZero() {
		lastAccess = now
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO uploads (experiment_hash, filename, submitted_ip, repository_key, created_at, last_access)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		upload.ExperimentHash,
		upload.Filename,
		nullIfEmpty(upload.SubmittedIP),
		nullIfEmpty(upload.RepositoryKey),
		now,
		lastAccess.UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert upload: %w", err)
	}
	return id, nil
}

func (s *UploadStore) Get(ctx context.Context, id int64) (domain.Upload, error) {
	if s == nil || s.db == nil {
		return domain.Upload{}, fmt.Errorf("upload store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectUploadQuery+` WHERE u.id = $1`, id)
	return s.scanJoined(ctx, row)
}

func (s *UploadStore) LatestByRepositoryKey(ctx context.Context, key string) (domain.Upload, error) {
	if s == nil || s.db == nil {
		return domain.Upload{}, fmt.Errorf("upload store not initialized")
	}
	row := s.db.QueryRowContext(ctx, selectLatestUploadByKeyQuery, key)
	return s.scanJoined(ctx, row)
}

func (s *UploadStore) TouchLastAccess(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("upload store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE uploads SET last_access = $1 WHERE id = $2`,
		normalizeTime(at), id)
	if err != nil {
		return fmt.Errorf("touch upload: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch upload: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *UploadStore) scanJoined(ctx context.Context, row *sql.Row) (domain.Upload, error) {
	var u domain.Upload
	var exp domain.Experiment
	var submittedIP, repositoryKey sql.NullString
	if err := row.Scan(&u.ID, &u.ExperimentHash, &u.Filename, &submittedIP,
		&repositoryKey, &u.Timestamp, &u.LastAccess, &exp.LastAccess); err != nil {
		return domain.Upload{}, handleNotFound(err)
	}
	if submittedIP.Valid {
		u.SubmittedIP = submittedIP.String
	}
	if repositoryKey.Valid {
		u.RepositoryKey = repositoryKey.String
	}

	exp.Hash = u.ExperimentHash
	expStore := &ExperimentStore{db: s.db}
	params, err := expStore.loadParameters(ctx, exp.Hash)
	if err != nil {
		return domain.Upload{}, err
	}
	exp.Parameters = params
	paths, err := expStore.loadPaths(ctx, exp.Hash)
	if err != nil {
		return domain.Upload{}, err
	}
	exp.Paths = paths

	u.Experiment = &exp
	return u, nil
}
