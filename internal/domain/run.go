package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Run is a single execution attempt of an uploaded experiment. The Started
// and Done flags only ever move false -> true, and the log is append-only;
// both are written by the external runner after handoff, never by this
// service.
type Run struct {
	ID             int64
	ExperimentHash string
	UploadID       int64
	Token          string
	Parameters     []ParameterValue
	InputFiles     []InputFile
	Ports          []RunPort
	Started        bool
	Done           bool
	SubmittedIP    string
	Timestamp      time.Time
}

// ParameterValue assigns a value to a declared experiment parameter.
type ParameterValue struct {
	Name  string
	Value string
}

// InputFile is a per-run input, content-hashed independently from the
// experiment package. Distinct runs submitting identical bytes share one
// stored blob.
type InputFile struct {
	Hash string
	Name string
	Size int64
}

// RunPort is a port to expose once the run starts.
type RunPort struct {
	Number int
}

func (r Run) Validate() error {
	if err := ValidateContentHash(r.ExperimentHash); err != nil {
		return err
	}
	if r.UploadID <= 0 {
		return errors.New("upload id is required")
	}
	if strings.TrimSpace(r.Token) == "" {
		return errors.New("run token is required")
	}
	for _, p := range r.Parameters {
		if strings.TrimSpace(p.Name) == "" {
			return errors.New("parameter value name is required")
		}
	}
	for _, f := range r.InputFiles {
		if err := ValidateContentHash(f.Hash); err != nil {
			return fmt.Errorf("input file %q: %w", f.Name, err)
		}
		if f.Size < 0 {
			return fmt.Errorf("input file %q has negative size", f.Name)
		}
	}
	for _, p := range r.Ports {
		if p.Number < 1 || p.Number > 65535 {
			return fmt.Errorf("port %d out of range", p.Number)
		}
	}
	return nil
}
