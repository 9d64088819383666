// Package rpz reads the metadata of an RPZ package: a tar archive (optionally
// gzip-compressed) carrying METADATA/version and METADATA/config.yml next to
// the packed experiment data.
package rpz

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/SecurityAnalysts/reproserver/internal/domain"
	"gopkg.in/yaml.v3"
)

// InvalidPackageError reports bytes that are not a well-formed RPZ package.
type InvalidPackageError struct {
	Reason string
}

func (e *InvalidPackageError) Error() string {
	return "invalid package: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &InvalidPackageError{Reason: fmt.Sprintf(format, args...)}
}

// IsInvalidPackage reports whether err is an InvalidPackageError.
func IsInvalidPackage(err error) bool {
	var target *InvalidPackageError
	return errors.As(err, &target)
}

// Metadata is what a package declares about itself: run parameters and the
// input/output file manifest.
type Metadata struct {
	Parameters []domain.Parameter
	Paths      []domain.Path
}

const (
	versionMember = "METADATA/version"
	configMember  = "METADATA/config.yml"

	// Metadata members are small; anything larger is hostile input.
	maxMemberSize = 8 << 20
)

type configFile struct {
	Runs []struct {
		ID   string   `yaml:"id"`
		Argv []string `yaml:"argv"`
	} `yaml:"runs"`
	InputsOutputs []struct {
		Name          string `yaml:"name"`
		ReadByRuns    []int  `yaml:"read_by_runs"`
		WrittenByRuns []int  `yaml:"written_by_runs"`
	} `yaml:"inputs_outputs"`
}

// ExtractMetadata parses the package metadata without touching the packed
// data members. It fails with InvalidPackageError on malformed archives,
// missing metadata members, unsupported versions, or invalid YAML.
func ExtractMetadata(r io.Reader) (Metadata, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(2)
	if err != nil {
		return Metadata{}, invalid("truncated archive")
	}

	var tr *tar.Reader
	if head[0] == 0x1f && head[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return Metadata{}, invalid("malformed gzip stream: %v", err)
		}
		defer gz.Close()
		tr = tar.NewReader(gz)
	} else {
		tr = tar.NewReader(br)
	}

	var versionRaw, configRaw []byte
	for versionRaw == nil || configRaw == nil {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Metadata{}, invalid("malformed tar archive: %v", err)
		}
		name := strings.TrimPrefix(hdr.Name, "./")
		if name != versionMember && name != configMember {
			continue
		}
		if hdr.Size > maxMemberSize {
			return Metadata{}, invalid("metadata member %s too large", name)
		}
		data, err := io.ReadAll(io.LimitReader(tr, maxMemberSize))
		if err != nil {
			return Metadata{}, invalid("read %s: %v", name, err)
		}
		if name == versionMember {
			versionRaw = data
		} else {
			configRaw = data
		}
	}

	if versionRaw == nil {
		return Metadata{}, invalid("missing %s", versionMember)
	}
	if configRaw == nil {
		return Metadata{}, invalid("missing %s", configMember)
	}
	if err := checkVersion(versionRaw); err != nil {
		return Metadata{}, err
	}

	var cfg configFile
	if err := yaml.Unmarshal(configRaw, &cfg); err != nil {
		return Metadata{}, invalid("malformed config.yml: %v", err)
	}
	if len(cfg.Runs) == 0 {
		return Metadata{}, invalid("package declares no runs")
	}

	meta := Metadata{}
	for i, run := range cfg.Runs {
		if len(run.Argv) == 0 {
			return Metadata{}, invalid("run %d has no command line", i)
		}
		meta.Parameters = append(meta.Parameters, domain.Parameter{
			Name:     "cmdline_" + strconv.Itoa(i),
			Optional: true,
			Default:  strings.Join(run.Argv, " "),
		})
	}
	for _, file := range cfg.InputsOutputs {
		name := strings.TrimSpace(file.Name)
		if name == "" {
			return Metadata{}, invalid("inputs_outputs entry without a name")
		}
		meta.Paths = append(meta.Paths, domain.Path{
			Name:    name,
			IsInput: len(file.ReadByRuns) > 0 && len(file.WrittenByRuns) == 0,
		})
	}
	return meta, nil
}

func checkVersion(raw []byte) error {
	line, _, _ := bytes.Cut(raw, []byte("\n"))
	version, ok := strings.CutPrefix(strings.TrimSpace(string(line)), "REPROZIP VERSION ")
	if !ok {
		return invalid("unrecognized version header")
	}
	if version != "1" && version != "2" {
		return invalid("unsupported package version %s", version)
	}
	return nil
}
