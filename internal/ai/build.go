package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/repoqa/internal/config"
)

// Build creates every configured provider and assembles the generator,
// paraphraser and embedder fallback groups. wrap, when set, decorates the
// embedder group, typically with caches. Embeddings whose length is not
// dimension are rejected by the group before any wrapper sees them.
func Build(cfg config.AIConfig, dimension int, wrap func(IEmbedder) IEmbedder) (*Manager, error) {
	providers := make(map[string]IProvider, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := NewProvider(pc.Name, pc.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", pc.Name, err)
		}
		providers[strings.ToLower(pc.Name)] = p
	}
	lookup := func(ref config.ModelRef) (IProvider, error) {
		p, ok := providers[strings.ToLower(ref.Provider)]
		if !ok {
			return nil, fmt.Errorf("ai provider %s is referenced but not configured", ref.Provider)
		}
		return p, nil
	}
	generators := func(refs []config.ModelRef) (IGenerator, error) {
		items := make([]GeneratorEntry, 0, len(refs))
		for _, ref := range refs {
			p, err := lookup(ref)
			if err != nil {
				return nil, err
			}
			items = append(items, GeneratorEntry{Name: p.Name() + "/" + ref.Model, Generator: NewGenerator(p, ref.Model)})
		}
		return NewGroupGenerator(items), nil
	}
	generator, err := generators(cfg.Generator)
	if err != nil {
		return nil, err
	}
	paraphraser, err := generators(cfg.Paraphraser)
	if err != nil {
		return nil, err
	}
	embedItems := make([]EmbedderEntry, 0, len(cfg.Embedder))
	for _, ref := range cfg.Embedder {
		p, err := lookup(ref)
		if err != nil {
			return nil, err
		}
		e := NewEmbedder(p, ref.Model)
		embedItems = append(embedItems, EmbedderEntry{Name: e.ModelName(), Embedder: e})
	}
	embedder := NewGroupEmbedder(embedItems, dimension)
	if embedder != nil && wrap != nil {
		embedder = wrap(embedder)
	}
	retries := -1
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	return NewManager(generator, paraphraser, embedder, ManagerConfig{
		Timeout:    cfg.Timeout,
		MaxRetries: retries,
	}), nil
}
