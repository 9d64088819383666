package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

var osfURLPattern = regexp.MustCompile(`^https?://osf\.io/([a-zA-Z0-9]+)(?:/download)?/?$`)

// OSF resolves osf.io file GUIDs through the OSF v2 file-metadata API.
type OSF struct {
	APIBase string
	Site    string
	client  *http.Client

	metadataTimeout time.Duration
	downloadTimeout time.Duration
}

func NewOSF(client *http.Client) *OSF {
	if client == nil {
		client = &http.Client{}
	}
	return &OSF{
		APIBase:         "https://api.osf.io/v2",
		Site:            "https://osf.io",
		client:          client,
		metadataTimeout: 30 * time.Second,
		downloadTimeout: 5 * time.Minute,
	}
}

func (o *OSF) ID() string   { return "osf.io" }
func (o *OSF) Name() string { return "OSF" }

func (o *OSF) Matches(rawURL string) bool {
	return osfURLPattern.MatchString(rawURL)
}

func (o *OSF) Resolve(ctx context.Context, rawURL string) (string, error) {
	m := osfURLPattern.FindStringSubmatch(rawURL)
	if m == nil {
		return "", repositoryError(nil, "not an OSF URL")
	}
	return m[1], nil
}

type osfFileResponse struct {
	Data struct {
		Links struct {
			Download string `json:"download"`
		} `json:"links"`
		Attributes struct {
			Name string `json:"name"`
		} `json:"attributes"`
	} `json:"data"`
}

func (o *OSF) Fetch(ctx context.Context, canonicalPath string) (io.ReadCloser, string, string, error) {
	metaCtx, cancel := context.WithTimeout(ctx, o.metadataTimeout)
	defer cancel()

	metaURL := fmt.Sprintf("%s/files/%s/", o.APIBase, canonicalPath)
	req, err := http.NewRequestWithContext(metaCtx, http.MethodGet, metaURL, nil)
	if err != nil {
		return nil, "", "", repositoryError(err, "invalid OSF metadata request")
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return nil, "", "", repositoryError(err, "OSF API request failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", "", repositoryError(nil, "OSF file %s not found (status %d)", canonicalPath, resp.StatusCode)
	}

	var meta osfFileResponse
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, "", "", repositoryError(err, "unexpected OSF API response")
	}
	link := meta.Data.Links.Download
	filename := meta.Data.Attributes.Name
	if link == "" || filename == "" {
		return nil, "", "", repositoryError(nil, "OSF API response missing download link or name")
	}

	body, err := o.download(ctx, link)
	if err != nil {
		return nil, "", "", err
	}
	return body, filename, link, nil
}

func (o *OSF) download(ctx context.Context, link string) (io.ReadCloser, error) {
	dlCtx, cancel := context.WithTimeout(ctx, o.downloadTimeout)
	req, err := http.NewRequestWithContext(dlCtx, http.MethodGet, link, nil)
	if err != nil {
		cancel()
		return nil, repositoryError(err, "invalid OSF download link")
	}
	resp, err := o.client.Do(req)
	if err != nil {
		cancel()
		return nil, repositoryError(err, "OSF download failed")
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, repositoryError(nil, "OSF download failed (status %d)", resp.StatusCode)
	}
	return &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}, nil
}

func (o *OSF) DownloadLink(canonicalPath string) string {
	return fmt.Sprintf("%s/download/%s/", o.Site, canonicalPath)
}

func (o *OSF) PageURL(canonicalPath string) string {
	return fmt.Sprintf("%s/%s/", o.Site, canonicalPath)
}

// cancelReadCloser ties a download body to its timeout context.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
