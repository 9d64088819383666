package main

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"github.com/SecurityAnalysts/reproserver/internal/ingest"
	"github.com/SecurityAnalysts/reproserver/internal/platform/httpserver"
	"github.com/SecurityAnalysts/reproserver/internal/platform/metrics"
	"github.com/SecurityAnalysts/reproserver/internal/repo"
	"github.com/SecurityAnalysts/reproserver/internal/repositories"
	"github.com/SecurityAnalysts/reproserver/internal/rpz"
	"github.com/SecurityAnalysts/reproserver/internal/service/runs"
	"github.com/SecurityAnalysts/reproserver/internal/shortids"
)

const maxUploadBytes = 512 << 20

type serverAPI struct {
	logger   *slog.Logger
	resolver *repositories.Resolver
	pipeline *ingest.Pipeline
	uploads  repo.UploadStore
	runs     *runs.Service
	metrics  *metrics.Registry
	now      func() time.Time
}

func newServerAPI(logger *slog.Logger, resolver *repositories.Resolver, pipeline *ingest.Pipeline, uploads repo.UploadStore, runService *runs.Service, m *metrics.Registry) *serverAPI {
	return &serverAPI{
		logger:   logger,
		resolver: resolver,
		pipeline: pipeline,
		uploads:  uploads,
		runs:     runService,
		metrics:  m,
		now:      time.Now,
	}
}

func (api *serverAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /upload", api.handleUpload)
	mux.HandleFunc("GET /reproduce/{upload_short_id}", api.handleReproduceLocal)
	mux.HandleFunc("GET /reproduce/{repo}/{path...}", api.handleReproduceRepository)
	mux.HandleFunc("POST /run/{upload_short_id}", api.handleStartRun)
	mux.HandleFunc("GET /results/{run_short_id}", api.handleResults)
}

type parameterView struct {
	Name     string `json:"name"`
	Optional bool   `json:"optional"`
	Default  string `json:"default,omitempty"`
}

type experimentView struct {
	Hash       string          `json:"experiment_hash"`
	Parameters []parameterView `json:"parameters"`
	InputPaths []string        `json:"input_paths"`
}

type repositoryView struct {
	Name    string `json:"name"`
	PageURL string `json:"page_url,omitempty"`
}

type reproduceResponse struct {
	UploadShortID string          `json:"upload_short_id"`
	Filename      string          `json:"filename"`
	Experiment    experimentView  `json:"experiment"`
	Repository    *repositoryView `json:"repository,omitempty"`
	DownloadLink  string          `json:"download_link,omitempty"`
}

// handleUpload accepts either a package file (multipart field rpz_file) or a
// repository URL (form field rpz_url). The URL branch canonicalizes and
// redirects to the repository route; the file branch ingests immediately.
func (api *serverAPI) handleUpload(w http.ResponseWriter, r *http.Request) {
	api.metrics.Page("upload")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_form")
		return
	}

	if rawURL := strings.TrimSpace(r.FormValue("rpz_url")); rawURL != "" {
		providerID, path, err := api.resolver.ParseURL(r.Context(), rawURL)
		if err != nil {
			api.repositoryError(w, r, err)
			return
		}
		http.Redirect(w, r, "/reproduce/"+providerID+"/"+path, http.StatusSeeOther)
		return
	}

	file, header, err := r.FormFile("rpz_file")
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "missing_file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "unreadable_file")
		return
	}

	experiment, err := api.pipeline.Ingest(r.Context(), content, header.Filename)
	if err != nil {
		api.ingestError(w, r, err)
		return
	}

	upload := domain.Upload{
		ExperimentHash: experiment.Hash,
		Filename:       header.Filename,
		SubmittedIP:    requestIP(r.RemoteAddr),
		Timestamp:      api.now().UTC(),
	}
	id, err := api.uploads.Create(r.Context(), upload)
	if err != nil {
		api.internalError(w, r, "create upload", err)
		return
	}

	shortID := shortids.Encode(id)
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{
		"upload_short_id": shortID,
		"experiment_hash": experiment.Hash,
		"reproduce_url":   "/reproduce/" + shortID,
	})
}

func (api *serverAPI) handleReproduceLocal(w http.ResponseWriter, r *http.Request) {
	api.metrics.Page("reproduce_local")
	id, err := shortids.Decode(r.PathValue("upload_short_id"))
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	upload, err := api.uploads.Get(r.Context(), id)
	if err == repo.ErrNotFound {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.internalError(w, r, "load upload", err)
		return
	}
	if err := api.uploads.TouchLastAccess(r.Context(), upload.ID, api.now().UTC()); err != nil {
		api.internalError(w, r, "touch upload", err)
		return
	}
	httpserver.WriteJSON(w, http.StatusOK, api.reproduceView(upload, "", ""))
}

func (api *serverAPI) handleReproduceRepository(w http.ResponseWriter, r *http.Request) {
	api.metrics.Page("reproduce_repository")
	providerID := r.PathValue("repo")
	path := r.PathValue("path")

	upload, link, err := api.resolver.GetExperiment(r.Context(), requestIP(r.RemoteAddr), providerID, path)
	if err != nil {
		api.ingestError(w, r, err)
		return
	}
	if upload.Experiment == nil {
		full, err := api.uploads.Get(r.Context(), upload.ID)
		if err != nil {
			api.internalError(w, r, "load upload", err)
			return
		}
		upload = full
	}
	httpserver.WriteJSON(w, http.StatusOK, api.reproduceView(upload, providerID, link))
}

func (api *serverAPI) reproduceView(upload domain.Upload, providerID, link string) reproduceResponse {
	resp := reproduceResponse{
		UploadShortID: shortids.Encode(upload.ID),
		Filename:      upload.Filename,
		DownloadLink:  link,
	}
	if upload.Experiment != nil {
		resp.Experiment.Hash = upload.Experiment.Hash
		for _, p := range upload.Experiment.Parameters {
			resp.Experiment.Parameters = append(resp.Experiment.Parameters, parameterView{
				Name:     p.Name,
				Optional: p.Optional,
				Default:  p.Default,
			})
		}
		for _, p := range upload.Experiment.InputPaths() {
			resp.Experiment.InputPaths = append(resp.Experiment.InputPaths, p.Name)
		}
	}
	if providerID != "" {
		name, err := api.resolver.Name(providerID)
		if err == nil {
			view := repositoryView{Name: name}
			if upload.RepositoryKey != "" {
				if page, err := api.resolver.PageURL(providerID, strings.TrimPrefix(upload.RepositoryKey, providerID+"/")); err == nil {
					view.PageURL = page
				}
			}
			resp.Repository = &view
		}
	}
	return resp
}

// handleStartRun reads parameter values from param_<name> form fields, input
// files from inputfile_<name> multipart files and ports from a
// whitespace-separated ports field.
func (api *serverAPI) handleStartRun(w http.ResponseWriter, r *http.Request) {
	api.metrics.Page("start_run")
	uploadID, err := shortids.Decode(r.PathValue("upload_short_id"))
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	upload, err := api.uploads.Get(r.Context(), uploadID)
	if err == repo.ErrNotFound {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.internalError(w, r, "load upload", err)
		return
	}
	if upload.Experiment == nil {
		api.internalError(w, r, "load upload", errors.New("experiment row missing"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_form")
		return
	}

	params := map[string]string{}
	for key, values := range r.MultipartForm.Value {
		if name, ok := strings.CutPrefix(key, "param_"); ok && len(values) > 0 {
			params[name] = values[0]
		}
	}

	var inputs []runs.SubmittedFile
	for key, headers := range r.MultipartForm.File {
		name, ok := strings.CutPrefix(key, "inputfile_")
		if !ok || len(headers) == 0 {
			continue
		}
		f, err := headers[0].Open()
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "unreadable_file")
			return
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			api.writeError(w, r, http.StatusBadRequest, "unreadable_file")
			return
		}
		inputs = append(inputs, runs.SubmittedFile{Name: name, Content: content})
	}

	ports := strings.Fields(r.FormValue("ports"))

	run, err := api.runs.CreateRun(r.Context(), *upload.Experiment, upload.ID, requestIP(r.RemoteAddr), params, inputs, ports)
	var verr *runs.ValidationError
	if errors.As(err, &verr) {
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid_run",
			"issues": verr.Issues,
		})
		return
	}
	if err != nil {
		api.internalError(w, r, "create run", err)
		return
	}

	shortID := shortids.Encode(run.ID)
	httpserver.WriteJSON(w, http.StatusCreated, map[string]any{
		"run_short_id": shortID,
		"results_url":  "/results/" + shortID,
	})
}

func (api *serverAPI) handleResults(w http.ResponseWriter, r *http.Request) {
	api.metrics.Page("results")
	runID, err := shortids.Decode(r.PathValue("run_short_id"))
	if err != nil {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}

	from := 0
	if raw := r.URL.Query().Get("log_from"); raw != "" {
		from, err = strconv.Atoi(raw)
		if err != nil || from < 0 {
			api.writeError(w, r, http.StatusBadRequest, "invalid_log_from")
			return
		}
	}

	lines, started, done, err := api.runs.GetLog(r.Context(), runID, from)
	if err == repo.ErrNotFound {
		api.writeError(w, r, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		api.internalError(w, r, "read log", err)
		return
	}
	if lines == nil {
		lines = []string{}
	}
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{
		"run_short_id":  r.PathValue("run_short_id"),
		"started":       started,
		"done":          done,
		"log":           lines,
		"log_from":      from,
		"next_log_from": from + len(lines),
	})
}

// ingestError maps the resolution/ingestion error taxonomy onto status
// codes: unknown repositories and missing files read as not found, malformed
// packages as a client error.
func (api *serverAPI) ingestError(w http.ResponseWriter, r *http.Request, err error) {
	var repoErr *repositories.Error
	switch {
	case errors.As(err, &repoErr):
		api.repositoryError(w, r, err)
	case rpz.IsInvalidPackage(err):
		httpserver.WriteJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid_package",
			"detail": err.Error(),
		})
	default:
		api.internalError(w, r, "ingest", err)
	}
}

func (api *serverAPI) repositoryError(w http.ResponseWriter, r *http.Request, err error) {
	api.logger.Info("repository resolution failed",
		"request_id", requestID(r),
		"error", err)
	api.writeError(w, r, http.StatusNotFound, "not_found")
}

func (api *serverAPI) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	api.logger.Error(op+" failed",
		"request_id", requestID(r),
		"error", err)
	api.writeError(w, r, http.StatusInternalServerError, "internal_error")
}

func (api *serverAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	httpserver.WriteJSON(w, status, map[string]any{
		"error":      code,
		"request_id": requestID(r),
	})
}

func requestID(r *http.Request) string {
	if id, ok := httpserver.RequestIDFromContext(r.Context()); ok {
		return id
	}
	return r.Header.Get("X-Request-Id")
}

func requestIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
