package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/xxxsen/repoqa/internal/model"
)

var (
	okColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	warnColor = color.New(color.FgYellow)
	infoColor = color.New(color.FgCyan)
)

// apiClient talks to a running server with a bearer token.
type apiClient struct {
	base   string
	token  string
	client *http.Client
}

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (c *apiClient) do(ctx context.Context, method, path string, body interface{}, dst interface{}) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("decode response: status %d: %w", resp.StatusCode, err)
	}
	if env.Code != 0 {
		return fmt.Errorf("server error %d: %s", env.Code, env.Msg)
	}
	if dst == nil || len(env.Data) == 0 {
		return nil
	}
	return json.Unmarshal(env.Data, dst)
}

func newIndexCmd() *cobra.Command {
	var (
		server     string
		repoURL    string
		token      string
		ref        string
		credential string
		wait       bool
		poll       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "submit a repository for indexing and follow its progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" || repoURL == "" {
				return fmt.Errorf("--token and --repo are required")
			}
			c := &apiClient{
				base:   strings.TrimRight(server, "/") + "/api/v1",
				token:  token,
				client: &http.Client{Timeout: 30 * time.Second},
			}
			ctx := cmd.Context()
			var submitted struct {
				JobID  string `json:"job_id"`
				RepoID string `json:"repo_id"`
			}
			err := c.do(ctx, http.MethodPost, "/index", map[string]string{
				"repo_url":   repoURL,
				"ref":        ref,
				"credential": credential,
			}, &submitted)
			if err != nil {
				errColor.Printf("submit failed: %v\n", err)
				return err
			}
			okColor.Printf("queued job %s for repo %s\n", submitted.JobID, submitted.RepoID)
			if !wait {
				return nil
			}
			return followJob(ctx, c, submitted.JobID, poll)
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8080", "server base url")
	cmd.Flags().StringVar(&repoURL, "repo", "", "repository url")
	cmd.Flags().StringVar(&token, "token", "", "bearer token, see the token command")
	cmd.Flags().StringVar(&ref, "ref", "", "branch, tag or commit, defaults to HEAD")
	cmd.Flags().StringVar(&credential, "credential", "", "access token for private repositories")
	cmd.Flags().BoolVar(&wait, "wait", true, "poll until the job finishes")
	cmd.Flags().DurationVar(&poll, "poll", 2*time.Second, "poll interval")
	return cmd
}

func followJob(ctx context.Context, c *apiClient, jobID string, poll time.Duration) error {
	last := -1
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		var job model.IndexJob
		if err := c.do(ctx, http.MethodGet, "/index/"+jobID, nil, &job); err != nil {
			warnColor.Printf("status check failed: %v\n", err)
		} else {
			if job.Progress != last {
				infoColor.Printf("[%s] %3d%%\n", job.Status, job.Progress)
				last = job.Progress
			}
			switch job.Status {
			case model.JobStatusCompleted:
				okColor.Printf("indexed %d chunks from %d of %d files\n", job.ChunksTotal, job.FilesFetched, job.FilesFound)
				return nil
			case model.JobStatusFailed:
				errColor.Printf("indexing failed: %s\n", job.FailureReason)
				return fmt.Errorf("job %s failed", jobID)
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
