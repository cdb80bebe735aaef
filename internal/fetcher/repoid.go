package fetcher

import (
	"fmt"
	"regexp"
	"strings"

	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

var (
	schemeRegex   = regexp.MustCompile(`^(\w+:)?//`)
	userRegex     = regexp.MustCompile(`^[^/@]+@`)
	nonWordRegex  = regexp.MustCompile(`\W+`)
	githubRegex   = regexp.MustCompile(`github\.com[/:]([\w.-]+)/([\w.-]+?)(?:\.git)?/?$`)
	scpStyleRegex = regexp.MustCompile(`^[^/]+:`)
)

// RepoID derives the storage key of a repository. Scheme, user info and a
// trailing .git are dropped and the host is lower cased, so the https, ssh
// and scp-like forms of one repository share a key.
func RepoID(repoURL string) string {
	s := strings.TrimSpace(repoURL)
	s = schemeRegex.ReplaceAllString(s, "")
	s = userRegex.ReplaceAllString(s, "")
	s = strings.TrimRight(s, "/")
	s = strings.TrimSuffix(s, ".git")
	host, rest, found := strings.Cut(s, "/")
	if scpStyleRegex.MatchString(s) && (!found || strings.Contains(host, ":")) {
		host, rest, found = strings.Cut(s, ":")
	}
	s = strings.ToLower(host)
	if found {
		s += "/" + rest
	}
	return nonWordRegex.ReplaceAllString(s, "_")
}

// ParseGithub extracts owner and repository name from a github url.
func ParseGithub(repoURL string) (string, string, error) {
	m := githubRegex.FindStringSubmatch(strings.TrimSpace(repoURL))
	if m == nil {
		return "", "", fmt.Errorf("%w: not a github repository url: %s", appErr.ErrInvalid, repoURL)
	}
	return m[1], m[2], nil
}
