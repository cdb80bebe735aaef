package fetcher

import (
	"context"
	"strings"

	"github.com/xxxsen/repoqa/internal/model"
)

const DefaultRef = "HEAD"

type Request struct {
	RepoURL    string
	Ref        string
	Credential string
}

type Result struct {
	Files []model.SourceFile
	// Found counts files that matched the filter, Fetched those whose
	// content could actually be read.
	Found    int
	Fetched  int
	Revision string
	Strategy string
}

type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Selector routes a request to the hosted-API strategy when a credential is
// present and to the local clone otherwise.
type Selector struct {
	hosted Fetcher
	local  Fetcher
}

func NewSelector(hosted Fetcher, local Fetcher) *Selector {
	return &Selector{hosted: hosted, local: local}
}

func (s *Selector) Name() string {
	return "selector"
}

func (s *Selector) Choose(req Request) Fetcher {
	if strings.TrimSpace(req.Credential) != "" && s.hosted != nil {
		return s.hosted
	}
	return s.local
}

func (s *Selector) Fetch(ctx context.Context, req Request) (*Result, error) {
	if req.Ref == "" {
		req.Ref = DefaultRef
	}
	f := s.Choose(req)
	res, err := f.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	res.Strategy = f.Name()
	return res, nil
}
