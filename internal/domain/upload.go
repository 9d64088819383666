package domain

import (
	"errors"
	"strings"
	"time"
)

// Upload is one reference event binding a submitted filename and submitter
// address to an Experiment. Uploads resolved from a remote repository carry
// the repository key ("<provider>/<canonical path>") used as the resolution
// cache key.
type Upload struct {
	ID             int64
	ExperimentHash string
	Filename       string
	SubmittedIP    string
	RepositoryKey  string
	Timestamp      time.Time
	LastAccess     time.Time

	// Experiment is populated on reads that join the owning row.
	Experiment *Experiment
}

func (u Upload) Validate() error {
	if err := ValidateContentHash(u.ExperimentHash); err != nil {
		return err
	}
	if strings.TrimSpace(u.Filename) == "" {
		return errors.New("filename is required")
	}
	return nil
}

// RepositoryKey builds the cache key for a resolved remote locator.
func RepositoryKey(providerID, canonicalPath string) string {
	return providerID + "/" + canonicalPath
}
