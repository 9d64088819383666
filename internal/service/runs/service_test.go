package runs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/minio/minio-go/v7"
)

const expHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func testExperiment() domain.Experiment {
	return domain.Experiment{
		Hash: expHash,
		Parameters: []domain.Parameter{
			{Name: "cmdline_0", Optional: true, Default: "./count words.txt"},
			{Name: "threshold"},
		},
		Paths: []domain.Path{
			{ExperimentHash: expHash, Name: "words.txt", IsInput: true},
			{ExperimentHash: expHash, Name: "out.txt", IsInput: false},
		},
	}
}

type fakeRunStore struct {
	created []domain.Run
	byID    map[int64]domain.Run
	logs    map[int64][]string
	nextID  int64
}

func newFakeRunStore() *fakeRunStore {
	return &fakeRunStore{byID: map[int64]domain.Run{}, logs: map[int64][]string{}, nextID: 10}
}

func (s *fakeRunStore) Create(ctx context.Context, run domain.Run) (int64, error) {
	s.nextID++
	run.ID = s.nextID
	s.created = append(s.created, run)
	s.byID[run.ID] = run
	return run.ID, nil
}

func (s *fakeRunStore) Get(ctx context.Context, id int64) (domain.Run, error) {
	run, ok := s.byID[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *fakeRunStore) LogLines(ctx context.Context, runID int64, from int) ([]string, error) {
	lines := s.logs[runID]
	if from >= len(lines) {
		return nil, nil
	}
	return lines[from:], nil
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

type fakeRunner struct {
	submitted []int64
	err       error
}

func (r *fakeRunner) Submit(ctx context.Context, runID int64) error {
	r.submitted = append(r.submitted, runID)
	return r.err
}

func TestCreateRun_AggregatesValidationIssues(t *testing.T) {
	store := newFakeRunStore()
	putter := &fakePutter{}
	svc := New(store, putter, "inputs", &fakeRunner{}, nil, nil)

	_, err := svc.CreateRun(context.Background(), testExperiment(), 5, "1.2.3.4",
		map[string]string{"bogus": "1"},
		[]SubmittedFile{{Name: "secret.txt", Content: []byte("x")}},
		[]string{"70000", "http"})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err=%v, want ValidationError", err)
	}
	if len(verr.Issues) != 5 {
		t.Fatalf("issues=%v, want 5 aggregated", verr.Issues)
	}
	joined := strings.Join(verr.Issues, "\n")
	for _, want := range []string{`missing parameter "threshold"`, `unknown parameter "bogus"`, `unknown input file "secret.txt"`, `invalid port "70000"`, `invalid port "http"`} {
		if !strings.Contains(joined, want) {
			t.Errorf("issues missing %q:\n%s", want, joined)
		}
	}
	if len(store.created) != 0 || len(putter.puts) != 0 {
		t.Fatalf("validation failure must not persist anything")
	}
}

func TestCreateRun_Success(t *testing.T) {
	store := newFakeRunStore()
	putter := &fakePutter{}
	rn := &fakeRunner{}
	svc := New(store, putter, "inputs", rn, nil, nil)

	content := []byte("one two three")
	run, err := svc.CreateRun(context.Background(), testExperiment(), 5, "1.2.3.4",
		map[string]string{"threshold": "3"},
		[]SubmittedFile{{Name: "words.txt", Content: content}},
		[]string{"80"})
	if err != nil {
		t.Fatalf("CreateRun() err=%v", err)
	}
	if run.ID == 0 || run.Token == "" {
		t.Fatalf("run not assigned id/token: %+v", run)
	}
	if run.Started || run.Done {
		t.Fatalf("new run must be pending: %+v", run)
	}
	if len(run.Ports) != 1 || run.Ports[0].Number != 80 {
		t.Fatalf("Ports=%+v", run.Ports)
	}

	sum := sha256.Sum256(content)
	wantHash := hex.EncodeToString(sum[:])
	if len(run.InputFiles) != 1 || run.InputFiles[0].Hash != wantHash || run.InputFiles[0].Size != int64(len(content)) {
		t.Fatalf("InputFiles=%+v", run.InputFiles)
	}
	if len(putter.puts) != 1 || putter.puts[0] != "inputs/"+wantHash {
		t.Fatalf("puts=%v", putter.puts)
	}
	if len(rn.submitted) != 1 || rn.submitted[0] != run.ID {
		t.Fatalf("submitted=%v, want [%d]", rn.submitted, run.ID)
	}
	if len(store.created) != 1 {
		t.Fatalf("created=%d runs", len(store.created))
	}
}

func TestCreateRun_SubmitFailureLeavesRunPending(t *testing.T) {
	store := newFakeRunStore()
	rn := &fakeRunner{err: errors.New("cluster unreachable")}
	svc := New(store, &fakePutter{}, "inputs", rn, nil, nil)

	run, err := svc.CreateRun(context.Background(), testExperiment(), 5, "1.2.3.4",
		map[string]string{"threshold": "3"}, nil, nil)
	if err != nil {
		t.Fatalf("CreateRun() err=%v, submit failures must not surface", err)
	}
	got, err := store.Get(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("run row missing: %v", err)
	}
	if got.Started || got.Done {
		t.Fatalf("run must stay pending: %+v", got)
	}
}

func TestGetLog_MonotonicOffsets(t *testing.T) {
	store := newFakeRunStore()
	store.byID[3] = domain.Run{ID: 3, Started: true}
	store.logs[3] = []string{"line 0", "line 1"}
	svc := New(store, &fakePutter{}, "inputs", &fakeRunner{}, nil, nil)

	first, started, done, err := svc.GetLog(context.Background(), 3, 0)
	if err != nil {
		t.Fatalf("GetLog() err=%v", err)
	}
	if !started || done {
		t.Fatalf("flags=(%v,%v), want (true,false)", started, done)
	}
	if len(first) != 2 {
		t.Fatalf("first read=%v", first)
	}

	// The backend appends and finishes between reads.
	store.logs[3] = append(store.logs[3], "line 2", "line 3")
	run := store.byID[3]
	run.Done = true
	store.byID[3] = run

	second, _, done, err := svc.GetLog(context.Background(), 3, len(first))
	if err != nil {
		t.Fatalf("GetLog() err=%v", err)
	}
	if !done {
		t.Fatalf("done=false after backend finished")
	}
	full := append(append([]string{}, first...), second...)
	if strings.Join(full, "\n") != strings.Join(store.logs[3], "\n") {
		t.Fatalf("concatenated reads %v != full log %v", full, store.logs[3])
	}
}

func TestGetLog_UnknownRun(t *testing.T) {
	svc := New(newFakeRunStore(), &fakePutter{}, "inputs", &fakeRunner{}, nil, nil)
	_, _, _, err := svc.GetLog(context.Background(), 99, 0)
	if err != repo.ErrNotFound {
		t.Fatalf("err=%v, want repo.ErrNotFound", err)
	}
}
