// Package ci reads the description of the CI environment and the credentials
// of collaborators from environment variables.
package ci

import (
	"path/filepath"
	"strings"

	"github.com/CZERTAINLY/csop/internal/model"

	"github.com/spf13/viper"
)

// UnknownCommit is used outside of CI.
const UnknownCommit = "unknown"

var bindings = map[string]string{
	"circleci":              "CIRCLECI",
	"username":              "CIRCLE_USERNAME",
	"project_username":      "CIRCLE_PROJECT_USERNAME",
	"repository":            "CIRCLE_PROJECT_REPONAME",
	"repository_url":        "CIRCLE_REPOSITORY_URL",
	"branch":                "CIRCLE_BRANCH",
	"commit":                "CIRCLE_SHA1",
	"pull_request":          "CIRCLE_PULL_REQUEST",
	"job":                   "CIRCLE_JOB",
	"jira.server":           "JIRA_SERVER",
	"jira.username":         "JIRA_USERNAME",
	"jira.token":            "JIRA_API_TOKEN",
	"aws.bucket":            "PARSER_AWS_BUCKET_NAME",
	"aws.access_key_id":     "PARSER_AWS_AK_ID",
	"aws.secret_access_key": "PARSER_AWS_SK",
}

// Env is everything read from the environment.
type Env struct {
	Metadata model.Metadata
	Jira     JiraCredentials
	AWS      AWSCredentials
}

type JiraCredentials struct {
	Server   string
	Username string
	Token    string
}

type AWSCredentials struct {
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
}

// Read reads the environment. Outside CI the repository is the base name of
// inputDir and the commit is UnknownCommit.
func Read(inputDir string) (Env, error) {
	v := viper.New()
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Env{}, err
		}
	}

	md := model.Metadata{
		IsCI:            v.GetBool("circleci"),
		Username:        v.GetString("username"),
		ProjectUsername: v.GetString("project_username"),
		Repository:      v.GetString("repository"),
		RepositoryURL:   v.GetString("repository_url"),
		Branch:          Branch(v.GetString("branch")),
		Commit:          v.GetString("commit"),
		PullRequest:     v.GetString("pull_request"),
		Job:             v.GetString("job"),
	}
	if md.Repository == "" {
		if abs, err := filepath.Abs(inputDir); err == nil {
			md.Repository = filepath.Base(abs)
		} else {
			md.Repository = filepath.Base(inputDir)
		}
	}
	if md.Commit == "" {
		md.Commit = UnknownCommit
	}

	return Env{
		Metadata: md,
		Jira: JiraCredentials{
			Server:   v.GetString("jira.server"),
			Username: v.GetString("jira.username"),
			Token:    v.GetString("jira.token"),
		},
		AWS: AWSCredentials{
			Bucket:          v.GetString("aws.bucket"),
			AccessKeyID:     v.GetString("aws.access_key_id"),
			SecretAccessKey: v.GetString("aws.secret_access_key"),
		},
	}, nil
}

// Branch makes a branch name usable in artifact names.
func Branch(s string) string {
	return strings.NewReplacer("/", "-", "_", "-").Replace(s)
}
