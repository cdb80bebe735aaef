package fetcher

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRepoIDEquivalentURLs(t *testing.T) {
	want := "github_com_acme_widgets"
	urls := []string{
		"https://github.com/acme/widgets.git",
		"https://github.com/acme/widgets",
		"https://github.com/acme/widgets/",
		"http://GitHub.com/acme/widgets",
		"git@github.com:acme/widgets.git",
		"ssh://git@github.com/acme/widgets.git",
		"//github.com/acme/widgets",
		"  https://github.com/acme/widgets.git  ",
	}
	for _, u := range urls {
		t.Run(u, func(t *testing.T) {
			require.Equal(t, want, RepoID(u))
			require.Equal(t, want, RepoID(RepoID(u)))
		})
	}
}

func TestRepoIDDistinct(t *testing.T) {
	require.NotEqual(t, RepoID("https://github.com/acme/widgets"), RepoID("https://github.com/acme/gadgets"))
	require.Equal(t, "gitlab_example_org_team_svc", RepoID("https://gitlab.example.org/team/svc.git"))
}

func TestParseGithub(t *testing.T) {
	tests := []struct {
		url   string
		owner string
		repo  string
		ok    bool
	}{
		{url: "https://github.com/acme/widgets.git", owner: "acme", repo: "widgets", ok: true},
		{url: "https://github.com/acme/widgets", owner: "acme", repo: "widgets", ok: true},
		{url: "git@github.com:acme/my-repo.git", owner: "acme", repo: "my-repo", ok: true},
		{url: "https://github.com/acme/next.js", owner: "acme", repo: "next.js", ok: true},
		{url: "https://gitlab.com/acme/widgets", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			owner, repo, err := ParseGithub(tt.url)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.owner, owner)
			require.Equal(t, tt.repo, repo)
		})
	}
}
