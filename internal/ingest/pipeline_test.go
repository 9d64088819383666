package ingest

import (
	"archive/tar"
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/SecurityAnalysts/reproserver/internal/rpz"
	"github.com/minio/minio-go/v7"
)

const testConfig = `
runs:
  - id: count
    argv: ["./count", "words.txt"]
inputs_outputs:
  - name: words.txt
    read_by_runs: [0]
    written_by_runs: []
  - name: out.txt
    read_by_runs: []
    written_by_runs: [0]
`

func buildPackage(t *testing.T) []byte {
	t.Helper()
	members := map[string]string{
		"METADATA/version":    "REPROZIP VERSION 2\n",
		"METADATA/config.yml": testConfig,
		"DATA/data.tar.gz":    "payload",
	}
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, content := range members {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write member: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	return buf.Bytes()
}

type fakeExperimentStore struct {
	byHash      map[string]domain.Experiment
	created     []domain.Experiment
	touched     []string
	createErr   error
	getByHashAt int
}

func newFakeExperimentStore() *fakeExperimentStore {
	return &fakeExperimentStore{byHash: map[string]domain.Experiment{}}
}

func (s *fakeExperimentStore) Create(ctx context.Context, experiment domain.Experiment) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, experiment)
	s.byHash[experiment.Hash] = experiment
	return nil
}

func (s *fakeExperimentStore) GetByHash(ctx context.Context, hash string) (domain.Experiment, error) {
	s.getByHashAt++
	e, ok := s.byHash[hash]
	if !ok {
		return domain.Experiment{}, repo.ErrNotFound
	}
	return e, nil
}

func (s *fakeExperimentStore) TouchLastAccess(ctx context.Context, hash string, at time.Time) error {
	s.touched = append(s.touched, hash)
	return nil
}

type fakePutter struct {
	puts []string
}

func (p *fakePutter) PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return minio.UploadInfo{}, err
	}
	p.puts = append(p.puts, bucket+"/"+object)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func TestIngest_NewPackage(t *testing.T) {
	content := buildPackage(t)
	store := newFakeExperimentStore()
	putter := &fakePutter{}
	p := New(store, putter, "experiments", nil)

	experiment, err := p.Ingest(context.Background(), content, "count.rpz")
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	wantHash := Hash(content)
	if experiment.Hash != wantHash {
		t.Fatalf("Hash=%q, want %q", experiment.Hash, wantHash)
	}
	if len(experiment.Parameters) != 1 || experiment.Parameters[0].Name != "cmdline_0" {
		t.Fatalf("Parameters=%+v", experiment.Parameters)
	}
	if len(experiment.Paths) != 2 {
		t.Fatalf("Paths=%+v", experiment.Paths)
	}
	if len(store.created) != 1 {
		t.Fatalf("created %d experiments, want 1", len(store.created))
	}
	if len(putter.puts) != 1 || putter.puts[0] != "experiments/"+wantHash {
		t.Fatalf("puts=%v", putter.puts)
	}
}

func TestIngest_DeduplicatesByHash(t *testing.T) {
	// Any bytes whose hash is already stored are accepted without parsing,
	// so even a non-package body passes.
	content := []byte("not a package at all")
	hash := Hash(content)
	store := newFakeExperimentStore()
	store.byHash[hash] = domain.Experiment{Hash: hash}
	putter := &fakePutter{}
	p := New(store, putter, "experiments", nil)

	experiment, err := p.Ingest(context.Background(), content, "dup.rpz")
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	if experiment.Hash != hash {
		t.Fatalf("Hash=%q, want %q", experiment.Hash, hash)
	}
	if len(putter.puts) != 0 {
		t.Fatalf("puts=%v, want none on dedup", putter.puts)
	}
	if len(store.created) != 0 {
		t.Fatalf("created=%d, want 0 on dedup", len(store.created))
	}
	if len(store.touched) != 1 || store.touched[0] != hash {
		t.Fatalf("touched=%v, want last-access bump", store.touched)
	}
}

func TestIngest_InvalidPackageWritesNothing(t *testing.T) {
	store := newFakeExperimentStore()
	putter := &fakePutter{}
	p := New(store, putter, "experiments", nil)

	_, err := p.Ingest(context.Background(), []byte("garbage"), "bad.rpz")
	if !rpz.IsInvalidPackage(err) {
		t.Fatalf("err=%v, want invalid package", err)
	}
	if len(putter.puts) != 0 || len(store.created) != 0 {
		t.Fatalf("invalid package must not write, puts=%v created=%d", putter.puts, len(store.created))
	}
}

func TestIngest_LostInsertRaceReusesWinner(t *testing.T) {
	content := buildPackage(t)
	hash := Hash(content)
	winner := domain.Experiment{Hash: hash, LastAccess: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)}

	// The winner's row becomes visible only between the first lookup and
	// the insert, exactly like a concurrent ingest of the same bytes.
	first := true
	raced := &racingStore{inner: newFakeExperimentStore(), hash: hash, winner: winner, first: &first}
	p := New(raced, &fakePutter{}, "experiments", nil)

	experiment, err := p.Ingest(context.Background(), content, "count.rpz")
	if err != nil {
		t.Fatalf("Ingest() err=%v", err)
	}
	if !experiment.LastAccess.Equal(winner.LastAccess) {
		t.Fatalf("expected winner row back, got %+v", experiment)
	}
}

type racingStore struct {
	inner  *fakeExperimentStore
	hash   string
	winner domain.Experiment
	first  *bool
}

func (s *racingStore) Create(ctx context.Context, experiment domain.Experiment) error {
	return repo.ErrAlreadyExists
}

func (s *racingStore) GetByHash(ctx context.Context, hash string) (domain.Experiment, error) {
	if *s.first {
		*s.first = false
		return domain.Experiment{}, repo.ErrNotFound
	}
	return s.winner, nil
}

func (s *racingStore) TouchLastAccess(ctx context.Context, hash string, at time.Time) error {
	return s.inner.TouchLastAccess(ctx, hash, at)
}
