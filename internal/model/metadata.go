package model

// Metadata describes the CI environment of a run. Parsers use it to build
// repository links, the report emitter to name and key artifacts.
type Metadata struct {
	IsCI            bool
	Username        string
	ProjectUsername string
	Repository      string
	RepositoryURL   string
	Branch          string
	Commit          string
	PullRequest     string
	Job             string
	// Jira is true when results are reconciled with a tracker. Parsers format
	// code excerpts for its markup.
	Jira bool
}
