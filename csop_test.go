package csop_test

import (
	"bytes"
	"context"
	"embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cdx "github.com/CycloneDX/cyclonedx-go"

	"github.com/stretchr/testify/require"
)

var (
	//go:embed testing/*
	testingFS embed.FS
	csopPath  string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", strings.ReplaceAll(t.Name(), "/", "_")+"*")
			require.NoError(t, err)
			t.Logf("TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			return dir
		}
	}

	if !isExecutable("csop-ci") {
		slog.Error("cannot locate csop-ci binary: run go build -race -cover -covermode=atomic -o csop-ci ./cmd/csop/ first")
		os.Exit(1)
	}

	var err error
	csopPath, err = filepath.Abs("csop-ci")
	if err != nil {
		slog.Error("can't get abspath for csop-ci", "error", err)
		os.Exit(1)
	}
	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR for csop-ci", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR for csop-ci", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}

	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestRun(t *testing.T) {
	dir := tmpDir(t)
	fixtures(t, dir)

	code, stderr := csop(t, dir, "run", "-i", "reports", "-o", "out", "--fail-threshold", "high")
	require.Equal(t, 4, code, stderr)

	rows := readCSV(t, single(t, dir, "out/parser_output_*.csv"))
	require.Equal(t, "issue_type", rows[0][0])
	require.Len(t, rows, 6)
	var failing []string
	for _, row := range rows[1:] {
		if row[10] == "true" {
			failing = append(failing, row[6])
		}
	}
	require.Equal(t, []string{"internal/db/query.go:30"}, failing)

	var md map[string]any
	raw, err := os.ReadFile(single(t, dir, "out/parser_metadata_*.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &md))
	require.Equal(t, "reports", md["repository"])
	require.Equal(t, "high", md["fail_threshold"])
	require.EqualValues(t, 4, md["exit_code"])
	require.EqualValues(t, 5, md["issue_count"])
	require.Len(t, md["input_files"], 2)

	f, err := os.Open(single(t, dir, "out/parser_bom_*.cdx.json"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	bom := cdx.BOM{}
	require.NoError(t, cdx.NewBOMDecoder(f, cdx.BOMFileFormatJSON).Decode(&bom))
	require.NotNil(t, bom.Vulnerabilities)
	require.Len(t, *bom.Vulnerabilities, 5)
	require.Equal(t, "urn:uuid:"+md["run_id"].(string), bom.SerialNumber)
	require.NotNil(t, bom.Metadata)
	require.NotNil(t, bom.Metadata.Properties)
	require.Contains(t, *bom.Metadata.Properties, cdx.Property{Name: "csop:repository", Value: "reports"})
	require.Contains(t, *bom.Metadata.Properties, cdx.Property{Name: "csop:fail_threshold", Value: "high"})
	require.Contains(t, *bom.Metadata.Properties, cdx.Property{Name: "csop:exit_code", Value: "4"})
}

func TestRun_Threshold(t *testing.T) {
	var tcs = []struct {
		scenario string
		given    []string
		then     int
	}{
		{"off", []string{"--fail-threshold", "off"}, 0},
		{"critical", []string{"--fail-threshold", "critical"}, 0},
		{"informational", []string{"--fail-threshold", "informational"}, 4},
		{"invalid", []string{"--fail-threshold", "severe"}, 78},
		{"missing input", []string{"-i", "nope"}, 74},
	}
	for _, tc := range tcs {
		t.Run(tc.scenario, func(t *testing.T) {
			dir := tmpDir(t)
			fixtures(t, dir)
			args := append([]string{"run", "-i", "reports", "-o", "out"}, tc.given...)
			code, stderr := csop(t, dir, args...)
			require.Equal(t, tc.then, code, stderr)
		})
	}
}

func TestRun_Config(t *testing.T) {
	const config = `
version: 0
fail_threshold: high
allowlist:
    paths:
        - internal/db/
history:
    path: history.db
`
	dir := tmpDir(t)
	fixtures(t, dir)
	creat(t, filepath.Join(dir, "csop.yaml"), []byte(config))

	code, stderr := csop(t, dir, "run", "-i", "reports", "-o", "out")
	require.Equal(t, 0, code, stderr)
	rows := readCSV(t, single(t, dir, "out/parser_output_*.csv"))
	require.Len(t, rows, 5)

	// history lists runs of the repository in the working directory
	creat(t, filepath.Join(dir, "reports", "csop.yaml"), []byte(strings.ReplaceAll(config, "history.db", "../history.db")))
	var stdout bytes.Buffer
	cmd := exec.CommandContext(t.Context(), csopPath, "history", "--config", "csop.yaml")
	cmd.Dir = filepath.Join(dir, "reports")
	cmd.Env = environ()
	cmd.Stdout = &stdout
	require.NoError(t, cmd.Run())
	require.Contains(t, stdout.String(), `repository: "reports"`)
	require.Contains(t, stdout.String(), "exit_code: 0")

	// a single run is shown by its id and can be deleted
	var md map[string]any
	raw, err := os.ReadFile(single(t, dir, "out/parser_metadata_*.json"))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &md))
	runID := md["run_id"].(string)

	code, stdout2, stderr := csopOut(t, dir, "history", runID)
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout2, fmt.Sprintf("uuid: %q", runID))

	code, stdout2, stderr = csopOut(t, dir, "history", "--delete", runID)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, "deleted "+runID+"\n", stdout2)

	code, _, stderr = csopOut(t, dir, "history", runID)
	require.Equal(t, 70, code, stderr)
	require.Contains(t, stderr, "not found")

	code, _, stderr = csopOut(t, dir, "history", "--delete")
	require.Equal(t, 78, code, stderr)
}

func TestRun_InvalidConfig(t *testing.T) {
	dir := tmpDir(t)
	fixtures(t, dir)
	creat(t, filepath.Join(dir, "csop.yaml"), []byte("version: 0\nfail_threshold: severe\n"))

	code, stderr := csop(t, dir, "run", "-i", "reports", "-o", "out")
	require.Equal(t, 78, code, stderr)
	require.Contains(t, stderr, "invalid configuration")
}

// csop runs the binary in dir and returns its exit code and stderr.
func csop(t *testing.T, dir string, args ...string) (int, string) {
	t.Helper()
	code, _, stderr := csopOut(t, dir, args...)
	return code, stderr
}

func csopOut(t *testing.T, dir string, args ...string) (int, string, string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, csopPath, args...)
	cmd.Dir = dir
	cmd.Env = environ()
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), stdout.String(), stderr.String()
	}
	require.NoError(t, err)
	return 0, stdout.String(), stderr.String()
}

// environ drops the variables of the CI the tests may run in.
func environ() []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		switch {
		case strings.HasPrefix(name, "CIRCLE"),
			strings.HasPrefix(name, "JIRA_"),
			strings.HasPrefix(name, "PARSER_"),
			name == "CSOPCONFIG":
			continue
		}
		env = append(env, kv)
	}
	return env
}

func fixtures(t *testing.T, dir string) {
	t.Helper()
	err := fs.WalkDir(testingFS, "testing", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		b, err := testingFS.ReadFile(path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dir, filepath.FromSlash(strings.TrimPrefix(path, "testing/")))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		creat(t, dest, b)
		return nil
	})
	require.NoError(t, err)
}

func single(t *testing.T, dir, pattern string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	require.NoError(t, err)
	require.Len(t, matches, 1, pattern)
	return matches[0]
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
