package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
)

const selectRunQuery = `SELECT id, experiment_hash, upload_id, token, started, done,
		submitted_ip, created_at
	FROM runs WHERE id = $1`

const selectLogLinesQuery = `SELECT line FROM run_logs
	WHERE run_id = $1 AND line_no >= $2
	ORDER BY line_no`

type RunStore struct {
	db *sql.DB
}

func NewRunStore(db *sql.DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) Create(ctx context.Context, run domain.Run) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO runs (experiment_hash, upload_id, token, started, done, submitted_ip, created_at)
		 VALUES ($1, $2, $3, false, false, $4, $5)
		 RETURNING id`,
		run.ExperimentHash,
		run.UploadID,
		run.Token,
		nullIfEmpty(run.SubmittedIP),
		normalizeTime(run.Timestamp),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	for _, p := range run.Parameters {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_parameters (run_id, name, value) VALUES ($1, $2, $3)`,
			id, p.Name, p.Value); err != nil {
			return 0, fmt.Errorf("insert run parameter %s: %w", p.Name, err)
		}
	}
	for _, f := range run.InputFiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_input_files (run_id, hash, name, size) VALUES ($1, $2, $3, $4)`,
			id, f.Hash, f.Name, f.Size); err != nil {
			return 0, fmt.Errorf("insert input file %s: %w", f.Name, err)
		}
	}
	for _, p := range run.Ports {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_ports (run_id, port_number) VALUES ($1, $2)`,
			id, p.Number); err != nil {
			return 0, fmt.Errorf("insert run port %d: %w", p.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return id, nil
}

func (s *RunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	var run domain.Run
	var submittedIP sql.NullString
	row := s.db.QueryRowContext(ctx, selectRunQuery, id)
	if err := row.Scan(&run.ID, &run.ExperimentHash, &run.UploadID, &run.Token,
		&run.Started, &run.Done, &submittedIP, &run.Timestamp); err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	if submittedIP.Valid {
		run.SubmittedIP = submittedIP.String
	}

	if err := s.loadCollections(ctx, &run); err != nil {
		return domain.Run{}, err
	}
	return run, nil
}

func (s *RunStore) LogLines(ctx context.Context, runID int64, from int) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if from < 0 {
		from = 0
	}
	rows, err := s.db.QueryContext(ctx, selectLogLinesQuery, runID, from)
	if err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	defer rows.Close()

	lines := make([]string, 0)
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load log: %w", err)
	}
	return lines, nil
}

func (s *RunStore) loadCollections(ctx context.Context, run *domain.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, value FROM run_parameters WHERE run_id = $1 ORDER BY name`, run.ID)
	if err != nil {
		return fmt.Errorf("load run parameters: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p domain.ParameterValue
		if err := rows.Scan(&p.Name, &p.Value); err != nil {
			return fmt.Errorf("scan run parameter: %w", err)
		}
		run.Parameters = append(run.Parameters, p)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load run parameters: %w", err)
	}

	fileRows, err := s.db.QueryContext(ctx,
		`SELECT hash, name, size FROM run_input_files WHERE run_id = $1 ORDER BY name`, run.ID)
	if err != nil {
		return fmt.Errorf("load input files: %w", err)
	}
	defer fileRows.Close()
	for fileRows.Next() {
		var f domain.InputFile
		if err := fileRows.Scan(&f.Hash, &f.Name, &f.Size); err != nil {
			return fmt.Errorf("scan input file: %w", err)
		}
		run.InputFiles = append(run.InputFiles, f)
	}
	if err := fileRows.Err(); err != nil {
		return fmt.Errorf("load input files: %w", err)
	}

	portRows, err := s.db.QueryContext(ctx,
		`SELECT port_number FROM run_ports WHERE run_id = $1 ORDER BY port_number`, run.ID)
	if err != nil {
		return fmt.Errorf("load ports: %w", err)
	}
	defer portRows.Close()
	for portRows.Next() {
		var p domain.RunPort
		if err := portRows.Scan(&p.Number); err != nil {
			return fmt.Errorf("scan port: %w", err)
		}
		run.Ports = append(run.Ports, p)
	}
	return portRows.Err()
}
