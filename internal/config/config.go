package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Common contains the data layout shared by every service.
type Common struct {
	DataDir  string
	Language string
}

// CorpusPath is the append-only article record log.
func (c Common) CorpusPath() string { return filepath.Join(c.DataDir, "articles.jsonl") }

// IndexPath is the committed on-disk search index directory.
func (c Common) IndexPath() string { return filepath.Join(c.DataDir, "search_index") }

// StatsPath is the run summary written at the end of every ingestion run.
func (c Common) StatsPath() string { return filepath.Join(c.DataDir, "stats.json") }

// MetadataPath is the run configuration written by the download tooling.
func (c Common) MetadataPath() string { return filepath.Join(c.DataDir, "config.json") }

// Kafka holds the optional corpus event stream settings. Empty brokers
// disable publishing.
type Kafka struct {
	Brokers []string
	Topic   string
}

// Ingest configures the extraction pipeline.
type Ingest struct {
	Common
	Kafka
	DumpPath       string
	MinLength      int
	MaxArticleSize int
	MaxPageBytes   int
	MaxArticles    int
	Workers        int
	Window         int
	BuildIndex     bool
	PruneLinks     bool
	IndexBatchSize int
	AWSRegion      string
	S3PathStyle    bool
}

// Indexer configures a standalone index rebuild.
type Indexer struct {
	Common
	Kafka
	BatchSize int
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr     string
	DefaultPage  int
	MaxPage      int
	PreviewChars int
	Backend      string
	TitleBoost   float64
	// MaxInFlight caps concurrently served requests; Backlog more may wait
	// up to BacklogTimeout before being turned away with 429.
	MaxInFlight    int
	Backlog        int
	BacklogTimeout time.Duration
}

// Mirror holds configuration for the Kafka -> Elasticsearch mirror.
type Mirror struct {
	Common
	Kafka
	ElasticsearchAddr  string
	ElasticsearchIndex string
	ConsumerGroup      string
	BatchSize          int
	ConnectBackoff     time.Duration
}

// Retention configures the stale index directory cleanup loop.
type Retention struct {
	Common
	Interval time.Duration
	MaxAge   time.Duration
}

// LoadIngest builds an Ingest config from the environment.
func LoadIngest() (*Ingest, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}
	common := s.common()
	c := &Ingest{
		Common:         common,
		Kafka:          s.kafka(),
		DumpPath:       s.getEnv("DUMP_PATH", filepath.Join(common.DataDir, common.Language+"wiki-latest-pages-articles.xml.bz2")),
		MinLength:      s.getInt("INGEST_MIN_LENGTH", 200),
		MaxArticleSize: s.getInt("INGEST_MAX_ARTICLE_SIZE", 2_000_000),
		MaxPageBytes:   s.getInt("INGEST_MAX_PAGE_BYTES", 32<<20),
		MaxArticles:    s.getInt("INGEST_MAX_ARTICLES", 0),
		Workers:        s.getInt("INGEST_WORKERS", 4),
		Window:         s.getInt("INGEST_WINDOW", 64),
		BuildIndex:     s.getBool("INGEST_BUILD_INDEX", true),
		PruneLinks:     s.getBool("INGEST_PRUNE_LINKS", false),
		IndexBatchSize: s.getInt("INDEX_BATCH_SIZE", 1000),
		AWSRegion:      s.getEnv("AWS_REGION", ""),
		S3PathStyle:    s.getBool("S3_USE_PATH_STYLE", false),
	}

	if c.MinLength < 0 {
		return nil, fmt.Errorf("INGEST_MIN_LENGTH cannot be negative")
	}
	if c.MaxArticleSize <= 0 {
		return nil, fmt.Errorf("INGEST_MAX_ARTICLE_SIZE must be positive")
	}
	if c.MaxArticleSize < c.MinLength {
		return nil, fmt.Errorf("INGEST_MAX_ARTICLE_SIZE cannot be below INGEST_MIN_LENGTH")
	}
	if c.MaxPageBytes <= 0 {
		return nil, fmt.Errorf("INGEST_MAX_PAGE_BYTES must be positive")
	}
	if c.MaxArticles < 0 {
		return nil, fmt.Errorf("INGEST_MAX_ARTICLES cannot be negative")
	}
	if c.Workers <= 0 {
		return nil, fmt.Errorf("INGEST_WORKERS must be positive")
	}
	if c.Window <= 0 {
		return nil, fmt.Errorf("INGEST_WINDOW must be positive")
	}
	if c.IndexBatchSize <= 0 {
		return nil, fmt.Errorf("INDEX_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadIndexer builds an Indexer config from the environment.
func LoadIndexer() (*Indexer, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}
	c := &Indexer{
		Common:    s.common(),
		Kafka:     s.kafka(),
		BatchSize: s.getInt("INDEX_BATCH_SIZE", 1000),
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("INDEX_BATCH_SIZE must be positive")
	}
	return c, nil
}

// LoadAPI builds an API config from the environment.
func LoadAPI() (*API, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}
	c := &API{
		Common:       s.common(),
		BindAddr:     s.getEnv("API_BIND_ADDR", "127.0.0.1:8080"),
		DefaultPage:  s.getInt("API_PAGE_SIZE", 20),
		MaxPage:      s.getInt("API_MAX_PAGE_SIZE", 100),
		PreviewChars: s.getInt("API_PREVIEW_CHARS", 200),
		Backend:      strings.ToLower(s.getEnv("STORE_BACKEND", "auto")),
		TitleBoost:   s.getFloat("SEARCH_TITLE_BOOST", 5),

		MaxInFlight:    s.getInt("API_MAX_IN_FLIGHT", 50),
		Backlog:        s.getInt("API_BACKLOG", 100),
		BacklogTimeout: s.getDuration("API_BACKLOG_TIMEOUT", "30s"),
	}

	if c.DefaultPage <= 0 {
		return nil, fmt.Errorf("API_PAGE_SIZE must be positive")
	}
	if c.MaxPage <= 0 {
		return nil, fmt.Errorf("API_MAX_PAGE_SIZE must be positive")
	}
	if c.DefaultPage > c.MaxPage {
		return nil, fmt.Errorf("API_PAGE_SIZE cannot exceed API_MAX_PAGE_SIZE")
	}
	if c.PreviewChars <= 0 {
		return nil, fmt.Errorf("API_PREVIEW_CHARS must be positive")
	}
	switch c.Backend {
	case "auto", "memory", "index":
	default:
		return nil, fmt.Errorf("STORE_BACKEND must be one of auto, memory, index")
	}
	if c.TitleBoost < 1 {
		return nil, fmt.Errorf("SEARCH_TITLE_BOOST must be at least 1")
	}
	if c.MaxInFlight <= 0 {
		return nil, fmt.Errorf("API_MAX_IN_FLIGHT must be positive")
	}
	if c.Backlog < 0 {
		return nil, fmt.Errorf("API_BACKLOG cannot be negative")
	}
	if c.BacklogTimeout <= 0 {
		return nil, fmt.Errorf("API_BACKLOG_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadMirror builds a Mirror config from the environment.
func LoadMirror() (*Mirror, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}
	c := &Mirror{
		Common:             s.common(),
		Kafka:              s.kafka(),
		ElasticsearchAddr:  s.getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex: s.getEnv("ELASTICSEARCH_INDEX", "articles"),
		ConsumerGroup:      s.getEnv("KAFKA_CONSUMER_GROUP", "wiki-mirror"),
		BatchSize:          s.getInt("MIRROR_BATCH_SIZE", 500),
		ConnectBackoff:     s.getDuration("MIRROR_CONNECT_BACKOFF", "2s"),
	}

	if len(c.Brokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.BatchSize <= 0 {
		return nil, fmt.Errorf("MIRROR_BATCH_SIZE must be positive")
	}

	return c, nil
}

// LoadRetention builds a Retention config from the environment.
func LoadRetention() (*Retention, error) {
	s, err := newSource()
	if err != nil {
		return nil, err
	}
	c := &Retention{
		Common:   s.common(),
		Interval: s.getDuration("RETENTION_CRON", "24h"),
		MaxAge:   s.getDuration("RETENTION_MAX_AGE", "168h"),
	}

	if c.MaxAge <= 0 {
		return nil, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if c.Interval <= 0 {
		return nil, fmt.Errorf("RETENTION_CRON must be positive")
	}

	return c, nil
}

// source resolves a key from the environment first, then from the optional
// YAML overlay named by CONFIG_FILE.
type source struct {
	file map[string]string
}

func newSource() (*source, error) {
	s := &source{file: map[string]string{}}
	path, ok := os.LookupEnv("CONFIG_FILE")
	if !ok || strings.TrimSpace(path) == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read CONFIG_FILE: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse CONFIG_FILE: %w", err)
	}
	for k, v := range raw {
		switch vv := v.(type) {
		case []any:
			parts := make([]string, 0, len(vv))
			for _, p := range vv {
				parts = append(parts, fmt.Sprint(p))
			}
			s.file[strings.ToUpper(k)] = strings.Join(parts, ",")
		case nil:
		default:
			s.file[strings.ToUpper(k)] = fmt.Sprint(vv)
		}
	}
	return s, nil
}

func (s *source) common() Common {
	return Common{
		DataDir:  s.getEnv("DATA_DIR", "wikipedia"),
		Language: s.getEnv("LANGUAGE", "simple"),
	}
}

func (s *source) kafka() Kafka {
	return Kafka{
		Brokers: splitAndTrim(s.getEnv("KAFKA_BROKERS", "")),
		Topic:   s.getEnv("KAFKA_TOPIC", "wiki_corpus_events"),
	}
}

func (s *source) getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	if v, ok := s.file[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (s *source) getInt(key string, fallback int) int {
	if parsed, err := strconv.Atoi(s.getEnv(key, "")); err == nil {
		return parsed
	}
	return fallback
}

func (s *source) getFloat(key string, fallback float64) float64 {
	if parsed, err := strconv.ParseFloat(s.getEnv(key, ""), 64); err == nil {
		return parsed
	}
	return fallback
}

func (s *source) getBool(key string, fallback bool) bool {
	if parsed, err := strconv.ParseBool(s.getEnv(key, "")); err == nil {
		return parsed
	}
	return fallback
}

func (s *source) getDuration(key, fallback string) time.Duration {
	d, err := time.ParseDuration(s.getEnv(key, fallback))
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
