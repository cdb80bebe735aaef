package fetcher

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/repoqa/internal/filestore"
	"github.com/xxxsen/repoqa/internal/model"
	appErr "github.com/xxxsen/repoqa/internal/pkg/errors"
)

type GithubConfig struct {
	BaseURL     string
	Concurrency int
	Timeout     time.Duration
}

// GithubFetcher reads a repository through the git trees and blobs REST
// endpoints. Complete fetches are archived per tree sha so a retried job does
// not pull every blob again.
type GithubFetcher struct {
	client    *http.Client
	baseURL   string
	limit     int
	filter    *Filter
	snapshots filestore.Store
}

func NewGithubFetcher(cfg GithubConfig, filter *Filter, snapshots filestore.Store) *GithubFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.github.com"
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &GithubFetcher{
		client:    &http.Client{Timeout: cfg.Timeout},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		limit:     cfg.Concurrency,
		filter:    filter,
		snapshots: snapshots,
	}
}

func (g *GithubFetcher) Name() string {
	return "github_api"
}

type treeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Sha  string `json:"sha"`
	Size int64  `json:"size"`
}

type treeResponse struct {
	Sha       string      `json:"sha"`
	Tree      []treeEntry `json:"tree"`
	Truncated bool        `json:"truncated"`
}

type blobResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type snapshot struct {
	Revision string             `json:"revision"`
	Found    int                `json:"found"`
	Files    []model.SourceFile `json:"files"`
}

func (g *GithubFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("repo_url", req.RepoURL), zap.String("ref", req.Ref))
	owner, repo, err := ParseGithub(req.RepoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}
	ref := req.Ref
	if ref == "" {
		ref = DefaultRef
	}
	if err := ValidateRef(ref); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}
	var tree treeResponse
	treeURL := fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", g.baseURL, owner, repo, ref)
	if err := g.getJSON(ctx, treeURL, req.Credential, &tree); err != nil {
		return nil, fmt.Errorf("%w: list tree: %v", appErr.ErrFetch, err)
	}
	if tree.Truncated {
		logger.Warn("github tree listing truncated, indexing partial repository")
	}
	var entries []treeEntry
	for _, e := range tree.Tree {
		if e.Type == "blob" && g.filter.Match(e.Path, e.Size) {
			entries = append(entries, e)
		}
	}

	snapKey := RepoID(req.RepoURL) + "/" + tree.Sha + ".json.gz"
	if snap, ok := g.loadSnapshot(ctx, snapKey); ok && snap.Found == len(entries) {
		logger.Info("reuse fetch snapshot", zap.String("revision", tree.Sha), zap.Int("files", len(snap.Files)))
		return &Result{Files: snap.Files, Found: snap.Found, Fetched: len(snap.Files), Revision: tree.Sha}, nil
	}

	files := make([]model.SourceFile, len(entries))
	ok := make([]bool, len(entries))
	var mu sync.Mutex
	var failed int
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(g.limit)
	for i, entry := range entries {
		eg.Go(func() error {
			content, err := g.fetchBlob(ectx, owner, repo, entry.Sha, req.Credential)
			if err != nil {
				mu.Lock()
				failed++
				mu.Unlock()
				logger.Warn("skip file: blob fetch failed", zap.String("path", entry.Path), zap.Error(err))
				return nil
			}
			files[i] = model.SourceFile{Path: entry.Path, Content: content}
			ok[i] = true
			return nil
		})
	}
	_ = eg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrFetch, err)
	}

	fetched := make([]model.SourceFile, 0, len(entries)-failed)
	for i := range entries {
		if ok[i] {
			fetched = append(fetched, files[i])
		}
	}
	logger.Info("github fetch finished", zap.Int("found", len(entries)), zap.Int("fetched", len(fetched)))
	if len(entries) > 0 && len(fetched) == 0 {
		return nil, fmt.Errorf("%w: none of %d files could be fetched", appErr.ErrFetch, len(entries))
	}
	if failed == 0 {
		g.saveSnapshot(ctx, snapKey, &snapshot{Revision: tree.Sha, Found: len(entries), Files: fetched})
	}
	return &Result{Files: fetched, Found: len(entries), Fetched: len(fetched), Revision: tree.Sha}, nil
}

func (g *GithubFetcher) fetchBlob(ctx context.Context, owner, repo, sha, token string) (string, error) {
	var blob blobResponse
	blobURL := fmt.Sprintf("%s/repos/%s/%s/git/blobs/%s", g.baseURL, owner, repo, sha)
	if err := g.getJSON(ctx, blobURL, token, &blob); err != nil {
		return "", err
	}
	if blob.Encoding != "base64" {
		return blob.Content, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(blob.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode blob: %w", err)
	}
	return string(raw), nil
}

func (g *GithubFetcher) getJSON(ctx context.Context, endpoint, token string, dst interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("github api %s: status %d: %s", endpoint, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func (g *GithubFetcher) loadSnapshot(ctx context.Context, key string) (*snapshot, bool) {
	if g.snapshots == nil {
		return nil, false
	}
	rc, err := g.snapshots.Open(ctx, key)
	if err != nil {
		if !errors.Is(err, appErr.ErrNotFound) {
			logutil.GetLogger(ctx).Warn("open fetch snapshot failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	defer rc.Close()
	zr, err := gzip.NewReader(rc)
	if err != nil {
		return nil, false
	}
	defer zr.Close()
	var snap snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		logutil.GetLogger(ctx).Warn("decode fetch snapshot failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return &snap, true
}

func (g *GithubFetcher) saveSnapshot(ctx context.Context, key string, snap *snapshot) {
	if g.snapshots == nil {
		return
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		return
	}
	if err := zw.Close(); err != nil {
		return
	}
	if err := g.snapshots.Save(ctx, key, bytes.NewReader(buf.Bytes()), int64(buf.Len())); err != nil {
		logutil.GetLogger(ctx).Warn("save fetch snapshot failed", zap.String("key", key), zap.Error(err))
	}
}
