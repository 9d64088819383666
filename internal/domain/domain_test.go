package domain

import (
	"strings"
	"testing"
)

const testHash = "9f86d081884c7d659a2feaa0c55ad015a3bf4f1b2b0b822cd15d6c15b0f00a08"

func TestValidateContentHash(t *testing.T) {
	if err := ValidateContentHash(testHash); err != nil {
		t.Fatalf("ValidateContentHash() err=%v", err)
	}
	if err := ValidateContentHash("abc"); err == nil {
		t.Fatalf("expected error for short hash")
	}
	if err := ValidateContentHash(strings.ToUpper(testHash)); err == nil {
		t.Fatalf("expected error for uppercase digest")
	}
	if err := ValidateContentHash(strings.Repeat("z", 64)); err == nil {
		t.Fatalf("expected error for non-hex digest")
	}
}

func TestExperimentValidate(t *testing.T) {
	exp := Experiment{
		Hash: testHash,
		Parameters: []Parameter{
			{Name: "cmdline_0", Optional: true, Default: "./count words.txt"},
		},
		Paths: []Path{
			{ExperimentHash: testHash, Name: "words.txt", IsInput: true},
			{ExperimentHash: testHash, Name: "out.txt"},
		},
	}
	if err := exp.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	exp.Parameters = append(exp.Parameters, Parameter{Name: "cmdline_0"})
	if err := exp.Validate(); err == nil {
		t.Fatalf("expected error for duplicate parameter")
	}
}

func TestExperimentInputPaths(t *testing.T) {
	exp := Experiment{
		Hash: testHash,
		Paths: []Path{
			{Name: "words.txt", IsInput: true},
			{Name: "out.txt"},
		},
	}
	inputs := exp.InputPaths()
	if len(inputs) != 1 || inputs[0].Name != "words.txt" {
		t.Fatalf("InputPaths()=%v, want [words.txt]", inputs)
	}
}

func TestUploadValidate(t *testing.T) {
	u := Upload{ExperimentHash: testHash, Filename: "bash-count.rpz"}
	if err := u.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}
	u.Filename = " "
	if err := u.Validate(); err == nil {
		t.Fatalf("expected error for empty filename")
	}
}

func TestRepositoryKey(t *testing.T) {
	if got := RepositoryKey("osf.io", "5ztp2"); got != "osf.io/5ztp2" {
		t.Fatalf("RepositoryKey()=%q", got)
	}
}

func TestRunValidate(t *testing.T) {
	run := Run{
		ExperimentHash: testHash,
		UploadID:       1,
		Token:          "tok",
		Parameters:     []ParameterValue{{Name: "cmdline_0", Value: "./count in.txt"}},
		InputFiles:     []InputFile{{Hash: testHash, Name: "in.txt", Size: 12}},
		Ports:          []RunPort{{Number: 80}},
	}
	if err := run.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	bad := run
	bad.Ports = []RunPort{{Number: 70000}}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}

	bad = run
	bad.Token = ""
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected error for missing token")
	}
}
