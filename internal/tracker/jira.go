// Package tracker reads the triage state of findings from Jira.
//
// Findings of a repository are tracked as sub-tasks of a parent issue whose
// summary contains the repository name. Each sub-task stores the finding
// identity in a custom field.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jira "github.com/andygrunwald/go-jira"
)

var ErrUnauthorized = errors.New("tracker: unauthorized")

type Config struct {
	ServerURL string
	Username  string
	Token     string
	Project   string
	// HashField is the custom field holding the finding identity, e.g. customfield_10100.
	HashField string
}

type Jira struct {
	client    *jira.Client
	project   string
	hashField string
}

func NewJira(cfg Config) (*Jira, error) {
	parsedURL, err := url.Parse(cfg.ServerURL)
	if err != nil {
		return nil, err
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, errors.New("please define the server url with a scheme, e.g. `https://example.atlassian.net`")
	}
	if cfg.Project == "" || cfg.HashField == "" {
		return nil, errors.New("tracker project and hash field must be set")
	}

	tp := jira.BasicAuthTransport{
		Username: cfg.Username,
		Password: cfg.Token,
	}
	httpClient := tp.Client()
	httpClient.Timeout = 30 * time.Second

	client, err := jira.NewClient(httpClient, parsedURL.String())
	if err != nil {
		return nil, err
	}
	return &Jira{
		client:    client,
		project:   cfg.Project,
		hashField: cfg.HashField,
	}, nil
}

// Statuses returns lowercased statuses of the sub-tasks of the parent issue
// of repository, keyed by the finding identity. Sub-tasks without an identity
// are skipped. A repository without a parent issue has no statuses.
func (j *Jira) Statuses(ctx context.Context, repository string) (map[string]string, error) {
	jql := fmt.Sprintf("summary ~ %q AND project = %q", repository, j.project)
	parents, resp, err := j.client.Issue.SearchWithContext(ctx, jql, &jira.SearchOptions{
		Fields:     []string{"subtasks"},
		MaxResults: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("search parent issue: %w", wrap(resp, err))
	}
	ret := make(map[string]string)
	if len(parents) == 0 {
		slog.DebugContext(ctx, "no parent issue", "repository", repository, "project", j.project)
		return ret, nil
	}

	parent := parents[0]
	if parent.Fields == nil {
		return ret, nil
	}
	for _, sub := range parent.Fields.Subtasks {
		issue, resp, err := j.client.Issue.GetWithContext(ctx, sub.Key, &jira.GetQueryOptions{
			Fields: "status," + j.hashField,
		})
		if err != nil {
			return nil, fmt.Errorf("get sub-task %s: %w", sub.Key, wrap(resp, err))
		}
		if issue.Fields == nil {
			continue
		}

		hash := j.identity(ctx, sub.Key, issue.Fields.Unknowns[j.hashField])
		if hash == "" {
			continue
		}
		var status string
		if issue.Fields.Status != nil {
			status = issue.Fields.Status.Name
		}
		ret[hash] = strings.ToLower(status)
	}
	slog.DebugContext(ctx, "tracker sub-tasks read", "parent", parent.Key, "count", len(ret))
	return ret, nil
}

// identity returns the finding identity stored in the hash field, or "" when
// the field is empty or not a string.
func (j *Jira) identity(ctx context.Context, key string, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		slog.DebugContext(ctx, "sub-task identity is not a string, skipping",
			"issue", key,
			"field", j.hashField,
			"type", fmt.Sprintf("%T", v))
		return ""
	}
}

func wrap(resp *jira.Response, err error) error {
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	return err
}
