// Package runs creates runs for uploaded experiments and reads their
// append-only logs.
package runs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/platform/metrics"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/SecurityAnalysts/reproserver/internal/runner"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
)

// ObjectPutter is the slice of the object-store client this service needs.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// SubmittedFile is an input file attached to a run submission.
type SubmittedFile struct {
	Name    string
	Content []byte
}

// Service validates run submissions, persists runs and hands them to the
// execution backend.
type Service struct {
	runs     repo.RunStore
	objects  ObjectPutter
	bucket   string
	runner   runner.Runner
	metrics  *metrics.Registry
	log      *slog.Logger
	now      func() time.Time
	newToken func() string
}

// New builds the service storing run input files in the given bucket. A nil
// metrics registry gets a private one; a nil logger falls back to the
// default.
func New(runs repo.RunStore, objects ObjectPutter, bucket string, rn runner.Runner, m *metrics.Registry, log *slog.Logger) *Service {
	if m == nil {
		m = metrics.New()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		runs:     runs,
		objects:  objects,
		bucket:   bucket,
		runner:   rn,
		metrics:  m,
		log:      log,
		now:      time.Now,
		newToken: uuid.NewString,
	}
}

// CreateRun validates the submission against the experiment's declared
// parameters and input paths, stores the input files by content hash,
// persists the run pending (started=false, done=false) and submits it for
// execution. Validation reports every problem at once; a submission failure
// after persistence leaves the run pending and is not surfaced.
func (s *Service) CreateRun(ctx context.Context, experiment domain.Experiment, uploadID int64, submittedIP string, params map[string]string, inputs []SubmittedFile, ports []string) (domain.Run, error) {
	var issues []string

	declared := make(map[string]domain.Parameter, len(experiment.Parameters))
	for _, p := range experiment.Parameters {
		declared[p.Name] = p
		if p.Optional {
			continue
		}
		if _, ok := params[p.Name]; !ok {
			issues = append(issues, fmt.Sprintf("missing parameter %q", p.Name))
		}
	}
	for _, name := range sortedKeys(params) {
		if _, ok := declared[name]; !ok {
			issues = append(issues, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	inputPaths := make(map[string]struct{})
	for _, p := range experiment.InputPaths() {
		inputPaths[p.Name] = struct{}{}
	}
	for _, f := range inputs {
		if _, ok := inputPaths[f.Name]; !ok {
			issues = append(issues, fmt.Sprintf("unknown input file %q", f.Name))
		}
	}

	runPorts := make([]domain.RunPort, 0, len(ports))
	for _, token := range ports {
		number, err := strconv.Atoi(token)
		if err != nil || number < 1 || number > 65535 {
			issues = append(issues, fmt.Sprintf("invalid port %q", token))
			continue
		}
		runPorts = append(runPorts, domain.RunPort{Number: number})
	}

	if len(issues) > 0 {
		return domain.Run{}, &ValidationError{Issues: issues}
	}

	inputFiles := make([]domain.InputFile, 0, len(inputs))
	for _, f := range inputs {
		sum := sha256.Sum256(f.Content)
		hash := hex.EncodeToString(sum[:])
		// Keyed by content hash, so identical bytes across runs share one
		// object and racing writes are benign.
		_, err := s.objects.PutObject(ctx, s.bucket, hash, bytes.NewReader(f.Content), int64(len(f.Content)), minio.PutObjectOptions{
			ContentType: "application/octet-stream",
		})
		if err != nil {
			return domain.Run{}, fmt.Errorf("store input file %q: %w", f.Name, err)
		}
		inputFiles = append(inputFiles, domain.InputFile{
			Hash: hash,
			Name: f.Name,
			Size: int64(len(f.Content)),
		})
	}

	values := make([]domain.ParameterValue, 0, len(params))
	for _, name := range sortedKeys(params) {
		values = append(values, domain.ParameterValue{Name: name, Value: params[name]})
	}

	run := domain.Run{
		ExperimentHash: experiment.Hash,
		UploadID:       uploadID,
		Token:          s.newToken(),
		Parameters:     values,
		InputFiles:     inputFiles,
		Ports:          runPorts,
		SubmittedIP:    submittedIP,
		Timestamp:      s.now().UTC(),
	}
	if err := run.Validate(); err != nil {
		return domain.Run{}, err
	}

	id, err := s.runs.Create(ctx, run)
	if err != nil {
		return domain.Run{}, fmt.Errorf("create run: %w", err)
	}
	run.ID = id
	s.metrics.RunsCreated.Inc()

	// Execution is asynchronous; a failed handoff leaves the run pending
	// and is retried out of band.
	if err := s.runner.Submit(ctx, id); err != nil {
		s.log.Error("run submission failed", "run_id", id, "error", err)
	}
	return run, nil
}

// GetLog returns the log lines with index >= from plus the current
// started/done flags. The log is append-only and the flags only move
// false -> true, so repeated calls at growing offsets never re-deliver or
// reorder lines.
func (s *Service) GetLog(ctx context.Context, runID int64, from int) ([]string, bool, bool, error) {
	if from < 0 {
		from = 0
	}
	run, err := s.runs.Get(ctx, runID)
	if err != nil {
		return nil, false, false, err
	}
	lines, err := s.runs.LogLines(ctx, runID, from)
	if err != nil {
		return nil, false, false, fmt.Errorf("read log of run %d: %w", runID, err)
	}
	return lines, run.Started, run.Done, nil
}

// GetRun returns the run with its collections loaded.
func (s *Service) GetRun(ctx context.Context, runID int64) (domain.Run, error) {
	return s.runs.Get(ctx, runID)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
