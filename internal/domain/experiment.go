// Package domain holds the logical data model: experiments deduplicated by
// content hash, uploads referencing them, and runs with their parameter,
// input-file and port collections.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Experiment is one stored package, identified by the sha256 hex digest of
// its bytes. There is exactly one row per distinct hash.
type Experiment struct {
	Hash       string
	Parameters []Parameter
	Paths      []Path
	LastAccess time.Time
}

// Parameter is a parameter the package declares for its runs.
type Parameter struct {
	Name     string
	Optional bool
	Default  string
}

// Path declares whether a named file inside the package is a required input.
type Path struct {
	ExperimentHash string
	Name           string
	IsInput        bool
}

func (e Experiment) Validate() error {
	if err := ValidateContentHash(e.Hash); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(e.Parameters))
	for _, p := range e.Parameters {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return errors.New("parameter name is required")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate parameter %q", name)
		}
		seen[name] = struct{}{}
	}
	for _, p := range e.Paths {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("path name is required")
		}
	}
	return nil
}

// InputPaths returns the declared paths flagged as run inputs.
func (e Experiment) InputPaths() []Path {
	inputs := make([]Path, 0, len(e.Paths))
	for _, p := range e.Paths {
		if p.IsInput {
			inputs = append(inputs, p)
		}
	}
	return inputs
}

// ValidateContentHash checks a sha256 hex digest.
func ValidateContentHash(hash string) error {
	if len(hash) != 64 {
		return fmt.Errorf("content hash must be 64 hex chars, got %d", len(hash))
	}
	for _, c := range hash {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		default:
			return fmt.Errorf("content hash contains invalid char %q", c)
		}
	}
	return nil
}
