package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port        int              `json:"port"`
	JWTSecret   string           `json:"jwt_secret"`
	CORSOrigins []string         `json:"cors_origins"`
	LogConfig   logger.LogConfig `json:"log_config"`
	Database    DatabaseConfig   `json:"database"`
	AI          AIConfig         `json:"ai"`
	Reranker    RerankerConfig   `json:"reranker"`
	Qdrant      QdrantConfig     `json:"qdrant"`
	Indexing    IndexingConfig   `json:"indexing"`
	Query       QueryConfig      `json:"query"`
	Snapshot    FileStoreConfig  `json:"snapshot_store"`
	EmbedCache  EmbedCacheConfig `json:"embed_cache"`
	Schedule    ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	SSLMode  string `json:"sslmode"`

	// MaxOpenConns caps the pool, 0 leaves it unbounded.
	MaxOpenConns int `json:"max_open_conns"`
}

type ProviderConfig struct {
	Name string      `json:"name"`
	Data interface{} `json:"data"`
}

// ModelRef points at a configured provider by name. Several refs form a
// fallback group tried in order.
type ModelRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type AIConfig struct {
	Providers   []ProviderConfig `json:"providers"`
	Generator   []ModelRef       `json:"generator"`
	Paraphraser []ModelRef       `json:"paraphraser"`
	Embedder    []ModelRef       `json:"embedder"`
	Timeout     int              `json:"timeout"`
	MaxRetries  *int             `json:"max_retries"`
}

type RerankerConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Timeout int    `json:"timeout"`
}

type QdrantConfig struct {
	Addr       string `json:"addr"`
	APIKey     string `json:"api_key"`
	UseTLS     bool   `json:"use_tls"`
	Collection string `json:"collection"`
	Dimension  uint64 `json:"dimension"`
	Timeout    int    `json:"timeout"`
}

type IndexingConfig struct {
	Workers          int      `json:"workers"`
	PollIntervalMS   int      `json:"poll_interval_ms"`
	BatchSize        int      `json:"batch_size"`
	BatchConcurrency int      `json:"batch_concurrency"`
	SplitThreshold   int      `json:"split_threshold"`
	SplitSize        int      `json:"split_size"`
	SplitOverlap     int      `json:"split_overlap"`
	CloneDir         string   `json:"clone_dir"`
	GithubAPIBase    string   `json:"github_api_base"`
	FetchConcurrency int      `json:"fetch_concurrency"`
	Extensions       []string `json:"extensions"`
	StaleMinutes     int      `json:"stale_minutes"`
}

type QueryConfig struct {
	TopK             int     `json:"top_k"`
	FetchK           int     `json:"fetch_k"`
	MMRLambda        float32 `json:"mmr_lambda"`
	Paraphrases      int     `json:"paraphrases"`
	RerankTopN       int     `json:"rerank_top_n"`
	ContextTokens    int     `json:"context_tokens"`
	HistoryTurns     int     `json:"history_turns"`
	StreamWords      int     `json:"stream_words"`
	StreamIntervalMS int     `json:"stream_interval_ms"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type EmbedCacheConfig struct {
	LRUSize    int  `json:"lru_size"`
	TTLMinutes int  `json:"ttl_minutes"`
	UseDB      bool `json:"use_db"`
	MaxAgeDays int  `json:"max_age_days"`
}

type ScheduleConfig struct {
	EmbedCacheCleanup string `json:"embed_cache_cleanup"`
	JobCleanup        string `json:"job_cleanup"`
	JobReaper         string `json:"job_reaper"`
	CloneCleanup      string `json:"clone_cleanup"`
	JobMaxAgeDays     int    `json:"job_max_age_days"`
	CloneMaxAgeDays   int    `json:"clone_max_age_days"`
}

// Load reads a json config. A .env file next to the process is loaded first
// and ${VAR} references in the file are expanded from the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(raw))
	var cfg Config
	dec := json.NewDecoder(strings.NewReader(expanded))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.fillDefaults()
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if c.Port == 0 {
		return fmt.Errorf("port is required")
	}
	if c.Database.DSN == "" && c.Database.Host == "" {
		return fmt.Errorf("database.dsn or database.host is required")
	}
	if c.Qdrant.Addr == "" {
		return fmt.Errorf("qdrant.addr is required")
	}
	if len(c.AI.Generator) == 0 {
		return fmt.Errorf("ai.generator requires at least one entry")
	}
	if len(c.AI.Embedder) == 0 {
		return fmt.Errorf("ai.embedder requires at least one entry")
	}
	known := make(map[string]struct{}, len(c.AI.Providers))
	for _, p := range c.AI.Providers {
		known[strings.ToLower(p.Name)] = struct{}{}
	}
	refs := append(append(append([]ModelRef{}, c.AI.Generator...), c.AI.Paraphraser...), c.AI.Embedder...)
	for _, ref := range refs {
		if _, ok := known[strings.ToLower(ref.Provider)]; !ok {
			return fmt.Errorf("ai model %q references unknown provider %q", ref.Model, ref.Provider)
		}
		if ref.Model == "" {
			return fmt.Errorf("ai model name is required for provider %q", ref.Provider)
		}
	}
	if c.Indexing.SplitOverlap > 0 && c.Indexing.SplitSize > 0 && c.Indexing.SplitOverlap >= c.Indexing.SplitSize {
		return fmt.Errorf("indexing.split_overlap must be smaller than indexing.split_size")
	}
	return nil
}

func (c *Config) fillDefaults() {
	if c.LogConfig.Level == "" {
		c.LogConfig.Level = "info"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.AI.Timeout == 0 {
		c.AI.Timeout = 60
	}
	// absent means 2, an explicit 0 turns retries off
	if c.AI.MaxRetries == nil {
		retries := 2
		c.AI.MaxRetries = &retries
	}
	if len(c.AI.Paraphraser) == 0 {
		c.AI.Paraphraser = c.AI.Generator
	}
	if c.Reranker.Model == "" {
		c.Reranker.Model = "rerank-v3.5"
	}
	if c.Reranker.Timeout == 0 {
		c.Reranker.Timeout = 15
	}
	if c.Qdrant.Collection == "" {
		c.Qdrant.Collection = "repoqa_chunks"
	}
	if c.Qdrant.Dimension == 0 {
		c.Qdrant.Dimension = 3072
	}
	if c.Qdrant.Timeout == 0 {
		c.Qdrant.Timeout = 30
	}
	ix := &c.Indexing
	setDefault(&ix.Workers, 2)
	setDefault(&ix.PollIntervalMS, 1000)
	setDefault(&ix.BatchSize, 10)
	setDefault(&ix.BatchConcurrency, 3)
	setDefault(&ix.SplitThreshold, 6000)
	setDefault(&ix.SplitSize, 2000)
	setDefault(&ix.SplitOverlap, 400)
	setDefault(&ix.FetchConcurrency, 8)
	setDefault(&ix.StaleMinutes, 60)
	if ix.CloneDir == "" {
		ix.CloneDir = ".cache/repos"
	}
	if ix.GithubAPIBase == "" {
		ix.GithubAPIBase = "https://api.github.com"
	}
	q := &c.Query
	setDefault(&q.TopK, 8)
	setDefault(&q.FetchK, 20)
	setDefault(&q.Paraphrases, 3)
	setDefault(&q.RerankTopN, 5)
	setDefault(&q.ContextTokens, 6000)
	setDefault(&q.HistoryTurns, 30)
	setDefault(&q.StreamWords, 5)
	setDefault(&q.StreamIntervalMS, 100)
	if q.MMRLambda == 0 {
		q.MMRLambda = 0.5
	}
	if q.RerankTopN > 5 {
		q.RerankTopN = 5
	}
	if c.Snapshot.Type == "" {
		c.Snapshot.Type = "local"
		c.Snapshot.Data = map[string]interface{}{"dir": ".cache/snapshots"}
	}
	setDefault(&c.EmbedCache.LRUSize, 4096)
	setDefault(&c.EmbedCache.TTLMinutes, 60)
	setDefault(&c.EmbedCache.MaxAgeDays, 30)
	s := &c.Schedule
	if s.EmbedCacheCleanup == "" {
		s.EmbedCacheCleanup = "30 3 * * *"
	}
	if s.JobCleanup == "" {
		s.JobCleanup = "0 4 * * *"
	}
	if s.JobReaper == "" {
		s.JobReaper = "*/5 * * * *"
	}
	if s.CloneCleanup == "" {
		s.CloneCleanup = "15 4 * * *"
	}
	setDefault(&s.JobMaxAgeDays, 30)
	setDefault(&s.CloneMaxAgeDays, 7)
}

func setDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
