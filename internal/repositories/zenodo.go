package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

var zenodoURLPattern = regexp.MustCompile(`^https?://zenodo\.org/record/(\d+)(?:/files/([^/?#]+))?/?(?:\?download=1)?$`)

// Zenodo resolves zenodo.org record URLs. Record URLs without a filename are
// resolved through the deposition API, which only succeeds for single-file
// records.
type Zenodo struct {
	Site   string
	client *http.Client
	token  string

	metadataTimeout time.Duration
	downloadTimeout time.Duration
}

func NewZenodo(client *http.Client, token string) *Zenodo {
	if client == nil {
		client = &http.Client{}
	}
	return &Zenodo{
		Site:            "https://zenodo.org",
		client:          client,
		token:           strings.TrimSpace(token),
		metadataTimeout: 30 * time.Second,
		downloadTimeout: 5 * time.Minute,
	}
}

func (z *Zenodo) ID() string   { return "zenodo.org" }
func (z *Zenodo) Name() string { return "Zenodo" }

func (z *Zenodo) Matches(rawURL string) bool {
	return zenodoURLPattern.MatchString(rawURL)
}

func (z *Zenodo) Resolve(ctx context.Context, rawURL string) (string, error) {
	m := zenodoURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", repositoryError(nil, "not a Zenodo URL")
	}
	recordID, filename := m[1], m[2]
	if filename != "" {
		return recordID + "/files/" + filename, nil
	}

	// No filename in the URL: the record must have exactly one file.
	files, err := z.recordFiles(ctx, recordID)
	if err != nil {
		return "", err
	}
	if len(files) != 1 {
		return "", repositoryError(nil, "record %s has %d files, specify one", recordID, len(files))
	}
	return recordID + "/files/" + files[0], nil
}

type zenodoDeposition struct {
	Files []struct {
		Filename string `json:"filename"`
	} `json:"files"`
}

func (z *Zenodo) recordFiles(ctx context.Context, recordID string) ([]string, error) {
	metaCtx, cancel := context.WithTimeout(ctx, z.metadataTimeout)
	defer cancel()

	metaURL := fmt.Sprintf("%s/api/deposit/depositions/%s", z.Site, recordID)
	req, err := http.NewRequestWithContext(metaCtx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, repositoryError(err, "invalid Zenodo metadata request")
	}
	if z.token != "" {
		req.Header.Set("Authorization", "Bearer "+z.token)
	}
	resp, err := z.client.Do(req)
	if err != nil {
		return nil, repositoryError(err, "Zenodo API request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, repositoryError(nil, "Zenodo record %s not found (status %d)", recordID, resp.StatusCode)
	}

	var deposition zenodoDeposition
	if err := json.NewDecoder(resp.Body).Decode(&deposition); err != nil {
		return nil, repositoryError(err, "unexpected Zenodo API response")
	}
	files := make([]string, 0, len(deposition.Files))
	for _, f := range deposition.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return files, nil
}

func (z *Zenodo) Fetch(ctx context.Context, canonicalPath string) (io.ReadCloser, string, string, error) {
	recordID, filename, err := splitZenodoPath(canonicalPath)
	if err != nil {
		return nil, "", "", err
	}
	link := z.DownloadLink(canonicalPath)

	dlCtx, cancel := context.WithTimeout(ctx, z.downloadTimeout)
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, link, nil)
	if err != nil {
		cancel()
		return nil, "", "", repositoryError(err, "invalid Zenodo download link")
	}
	resp, err := z.client.Do(req)
	if err != nil {
		cancel()
		return nil, "", "", repositoryError(err, "Zenodo download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, "", "", repositoryError(nil, "Zenodo file %s/files/%s not found (status %d)", recordID, filename, resp.StatusCode)
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, filename, link, nil
}

func (z *Zenodo) DownloadLink(canonicalPath string) string {
	return fmt.Sprintf("%s/record/%s?download=1", z.Site, canonicalPath)
}

func (z *Zenodo) PageURL(canonicalPath string) string {
	recordID, _, err := splitZenodoPath(canonicalPath)
	if err != nil {
		return z.Site
	}
	return fmt.Sprintf("%s/record/%s", z.Site, recordID)
}

func splitZenodoPath(canonicalPath string) (string, string, error) {
	recordID, filename, ok := strings.Cut(canonicalPath, "/files/")
	if !ok || recordID == "" || filename == "" {
		return "", "", repositoryError(nil, "malformed Zenodo path %q", canonicalPath)
	}
	return recordID, filename, nil
}
