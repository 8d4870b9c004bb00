package report

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"
	"github.com/CZERTAINLY/csop/internal/pipeline"

	jss "github.com/kaptinlin/jsonschema"
)

//go:embed metadata.schema.json
var metadataSchema []byte

// Metadata is the side artifact describing a run.
type Metadata struct {
	RunID         string          `json:"run_id"`
	Timestamp     int64           `json:"timestamp"`
	FailThreshold model.Threshold `json:"fail_threshold"`
	Jira          bool            `json:"jira"`
	IsCircleCI    bool            `json:"is_circleci"`
	Username      string          `json:"username,omitempty"`
	Repository    string          `json:"repository"`
	RepositoryURL string          `json:"repository_url,omitempty"`
	Branch        string          `json:"branch,omitempty"`
	CommitHash    string          `json:"commit_hash"`
	PullRequest   string          `json:"pull_request,omitempty"`
	Job           string          `json:"job,omitempty"`
	InputFiles    []string        `json:"input_files"`
	Counts        pipeline.Counts `json:"counts"`
	ExitCode      int             `json:"exit_code"`
	IssueCount    int             `json:"issue_count"`
}

// NewMetadata describes the result of a run executed in environment md.
func NewMetadata(runID string, ts int64, th model.Threshold, md model.Metadata, res pipeline.Result) Metadata {
	inputs := res.Inputs
	if inputs == nil {
		inputs = []string{}
	}
	return Metadata{
		RunID:         runID,
		Timestamp:     ts,
		FailThreshold: th,
		Jira:          md.Jira,
		IsCircleCI:    md.IsCI,
		Username:      md.Username,
		Repository:    md.Repository,
		RepositoryURL: md.RepositoryURL,
		Branch:        md.Branch,
		CommitHash:    md.Commit,
		PullRequest:   md.PullRequest,
		Job:           md.Job,
		InputFiles:    inputs,
		Counts:        res.Counts,
		ExitCode:      res.ExitCode,
		IssueCount:    len(res.Findings),
	}
}

// Validator checks the metadata against the embedded JSON schema.
type Validator struct {
	schema *jss.Schema
}

func NewValidator() (Validator, error) {
	compiler := jss.NewCompiler()
	schema, err := compiler.Compile(metadataSchema)
	if err != nil {
		return Validator{}, fmt.Errorf("compiling schema: %w", err)
	}
	return Validator{schema: schema}, nil
}

func (v Validator) ValidateBytes(b []byte) error {
	res := v.schema.Validate(b)
	if !res.Valid {
		var errorMsgs []string
		for _, err := range res.Errors {
			errorMsgs = append(errorMsgs, fmt.Sprintf("%s: %s", err.Keyword, err.Error()))
		}
		slices.Sort(errorMsgs)
		return fmt.Errorf("metadata validation failed:\n%s", strings.Join(errorMsgs, "\n"))
	}
	return nil
}

// WriteMetadata validates m and writes it as indented JSON.
func (v Validator) WriteMetadata(w io.Writer, m Metadata) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	if err := v.ValidateBytes(buf.Bytes()); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}
