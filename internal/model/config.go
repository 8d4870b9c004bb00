package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version       int            `json:"version" yaml:"version"` // fixed 0 for now
	Verbose       *bool          `json:"verbose,omitempty" yaml:"verbose,omitempty"`
	FailThreshold string         `json:"fail_threshold" yaml:"fail_threshold"`
	Allowlist     *Allowlist     `json:"allowlist,omitempty" yaml:"allowlist,omitempty"`
	Gitleaks      *Gitleaks      `json:"gitleaks,omitempty" yaml:"gitleaks,omitempty"`
	Upload        *Upload        `json:"upload,omitempty" yaml:"upload,omitempty"`
	Jira          *Jira          `json:"jira,omitempty" yaml:"jira,omitempty"`
	History       *History       `json:"history,omitempty" yaml:"history,omitempty"`
	BOMRepository *BOMRepository `json:"bom_repository,omitempty" yaml:"bom_repository,omitempty"`
}

// Allowlist holds findings suppressed from the report.
type Allowlist struct {
	IDs   []string `json:"ids,omitempty" yaml:"ids,omitempty"`     // finding identities
	Paths []string `json:"paths,omitempty" yaml:"paths,omitempty"` // substrings of a location
}

type Gitleaks struct {
	MergeByFile bool `json:"merge_by_file" yaml:"merge_by_file"`
}

// Upload of input files and artifacts to S3 compatible storage.
type Upload struct {
	Enabled  bool    `json:"enabled" yaml:"enabled"`
	Bucket   *string `json:"bucket,omitempty" yaml:"bucket,omitempty"` // PARSER_AWS_BUCKET_NAME when empty
	Region   *string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint *string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"` // path-style endpoint, e.g. minio
}

// Jira reconciliation settings. Credentials are read from the environment.
type Jira struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	Project          string   `json:"project,omitempty" yaml:"project,omitempty"`
	IssueType        string   `json:"issue_type,omitempty" yaml:"issue_type,omitempty"`
	HashField        string   `json:"hash_field,omitempty" yaml:"hash_field,omitempty"`
	AcceptedStatuses []string `json:"accepted_statuses" yaml:"accepted_statuses"`
}

// History is a sqlite database recording runs.
type History struct {
	Path string `json:"path" yaml:"path"`
}

// BOMRepository receives the CycloneDX BOM of reported findings.
type BOMRepository struct {
	URL string `json:"url" yaml:"url"`
}

// DefaultConfig is used when no configuration file exists.
func DefaultConfig(_ context.Context) Config {
	return Config{
		Version:       0,
		FailThreshold: string(SeverityHigh),
	}
}

// Threshold returns the validated fail threshold.
func (c Config) Threshold() (Threshold, error) {
	return ParseThreshold(c.FailThreshold)
}

func (c Config) IsVerbose() bool {
	return c.Verbose != nil && *c.Verbose
}

func (c Config) JiraEnabled() bool {
	return c.Jira != nil && c.Jira.Enabled
}

func (c Config) UploadEnabled() bool {
	return c.Upload != nil && c.Upload.Enabled
}

// Validate checks constraints which are not expressed by the schema.
func (c Config) Validate() error {
	var errs []error
	if c.Version != 0 {
		errs = append(errs, fmt.Errorf("config version %d is not supported, expected 0", c.Version))
	}
	if _, err := c.Threshold(); err != nil {
		errs = append(errs, err)
	}
	if c.JiraEnabled() {
		if strings.TrimSpace(c.Jira.Project) == "" {
			errs = append(errs, errors.New("jira.project is required when jira is enabled"))
		}
		if strings.TrimSpace(c.Jira.HashField) == "" {
			errs = append(errs, errors.New("jira.hash_field is required when jira is enabled"))
		}
	}
	return errors.Join(errs...)
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
func LoadConfig(r io.Reader) (*Config, error) {
	yamlFile, err := yaml.Extract("config.yaml", r)
	if err != nil {
		return nil, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return nil, err
	}
	if out.Jira != nil {
		for i, s := range out.Jira.AcceptedStatuses {
			out.Jira.AcceptedStatuses[i] = strings.ToLower(strings.TrimSpace(s))
		}
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}

	return &out, nil
}
