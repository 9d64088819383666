package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
)

const insertExperimentQuery = `INSERT INTO experiments (hash, last_access)
	VALUES ($1, $2)
	ON CONFLICT (hash) DO NOTHING`

type ExperimentStore struct {
	db *sql.DB
}

func NewExperimentStore(db *sql.DB) *ExperimentStore {
	if db == nil {
		return nil
	}
	return &ExperimentStore{db: db}
}

func (s *ExperimentStore) Create(ctx context.Context, experiment domain.Experiment) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	if err := experiment.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, insertExperimentQuery,
		experiment.Hash, normalizeTime(experiment.LastAccess))
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert experiment: %w", err)
	}
	if inserted == 0 {
		// Another request committed this hash first; no partial rows to
		// keep.
		return repo.ErrAlreadyExists
	}

	for _, p := range experiment.Parameters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO parameters (experiment_hash, name, optional, default_value)
			 VALUES ($1, $2, $3, $4)`,
			experiment.Hash, p.Name, p.Optional, nullIfEmpty(p.Default)); err != nil {
			return fmt.Errorf("insert parameter %s: %w", p.Name, err)
		}
	}
	for _, p := range experiment.Paths {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO paths (experiment_hash, name, is_input)
			 VALUES ($1, $2, $3)`,
			experiment.Hash, p.Name, p.IsInput); err != nil {
			return fmt.Errorf("insert path %s: %w", p.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return repo.ErrAlreadyExists
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *ExperimentStore) GetByHash(ctx context.Context, hash string) (domain.Experiment, error) {
	if s == nil || s.db == nil {
		return domain.Experiment{}, fmt.Errorf("experiment store not initialized")
	}
	var exp domain.Experiment
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, last_access FROM experiments WHERE hash = $1`, hash)
	if err := row.Scan(&exp.Hash, &exp.LastAccess); err != nil {
		return domain.Experiment{}, handleNotFound(err)
	}

	params, err := s.loadParameters(ctx, hash)
	if err != nil {
		return domain.Experiment{}, err
	}
	exp.Parameters = params

	paths, err := s.loadPaths(ctx, hash)
	if err != nil {
		return domain.Experiment{}, err
	}
	exp.Paths = paths
	return exp, nil
}

func (s *ExperimentStore) TouchLastAccess(ctx context.Context, hash string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("experiment store not initialized")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET last_access = $1 WHERE hash = $2`,
		normalizeTime(at), hash)
	if err != nil {
		return fmt.Errorf("touch experiment: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch experiment: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ExperimentStore) loadParameters(ctx context.Context, hash string) ([]domain.Parameter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, optional, default_value FROM parameters
		 WHERE experiment_hash = $1 ORDER BY name`, hash)
	if err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	defer rows.Close()

	var params []domain.Parameter
	for rows.Next() {
		var p domain.Parameter
		var def sql.NullString
		if err := rows.Scan(&p.Name, &p.Optional, &def); err != nil {
			return nil, fmt.Errorf("scan parameter: %w", err)
		}
		if def.Valid {
			p.Default = def.String
		}
		params = append(params, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load parameters: %w", err)
	}
	return params, nil
}

func (s *ExperimentStore) loadPaths(ctx context.Context, hash string) ([]domain.Path, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT experiment_hash, name, is_input FROM paths
		 WHERE experiment_hash = $1 ORDER BY name`, hash)
	if err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	defer rows.Close()

	var paths []domain.Path
	for rows.Next() {
		var p domain.Path
		if err := rows.Scan(&p.ExperimentHash, &p.Name, &p.IsInput); err != nil {
			return nil, fmt.Errorf("scan path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load paths: %w", err)
	}
	return paths, nil
}
