// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/docrag/ai"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration of a docrag service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Index     IndexConfig     `yaml:"index"`
	Blob      BlobConfig      `yaml:"blob"`
	AI        AIConfig        `yaml:"ai"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	RAG       RAGConfig       `yaml:"rag"`
	Tracker   TrackerConfig   `yaml:"tracker"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WatchDir        string        `yaml:"watch_dir"`
	WatchUser       string        `yaml:"watch_user"`
}

type StorageConfig struct {
	Path     string `yaml:"path"`
	InMemory bool   `yaml:"in_memory"`
}

// IndexConfig selects the vector index. Backend is "badger" (embedded) or "chroma".
type IndexConfig struct {
	Backend   string `yaml:"backend"`
	ChromaURL string `yaml:"chroma_url"`
}

// BlobConfig selects where raw uploads live. Backend is "fs" or "minio".
type BlobConfig struct {
	Backend   string        `yaml:"backend"`
	Dir       string        `yaml:"dir"`
	Endpoint  string        `yaml:"endpoint"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Bucket    string        `yaml:"bucket"`
	Secure    bool          `yaml:"secure"`
	URLExpiry time.Duration `yaml:"url_expiry"`
}

type AIConfig struct {
	Backend         string  `yaml:"backend"`
	APIKey          string  `yaml:"api_key"`
	Host            string  `yaml:"host"`
	EmbeddingModel  string  `yaml:"embedding_model"`
	GenerationModel string  `yaml:"generation_model"`
	Dimensions      int     `yaml:"dimensions"`
	SystemPrompt    string  `yaml:"system_prompt"`
	Temperature     float64 `yaml:"temperature"`
	TopP            float64 `yaml:"top_p"`
	TopK            int     `yaml:"top_k"`
	MaxTokens       int     `yaml:"max_tokens"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinUnit int `yaml:"min_unit"`
}

// EmbeddingConfig tunes the batcher. Mode is "batch" or "items".
type EmbeddingConfig struct {
	BatchSize  int           `yaml:"batch_size"`
	BatchDelay time.Duration `yaml:"batch_delay"`
	Mode       string        `yaml:"mode"`
	RateLimit  float64       `yaml:"rate_limit"`
	Burst      int           `yaml:"burst"`
	PoolSize   int           `yaml:"pool_size"`
}

type PipelineConfig struct {
	MaxFileSizeMB int           `yaml:"max_file_size_mb"`
	Workers       int           `yaml:"workers"`
	MaxAttempts   int           `yaml:"max_attempts"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
	DocumentDelay time.Duration `yaml:"document_delay"`
	TempDir       string        `yaml:"temp_dir"`
}

type RAGConfig struct {
	TopK         int `yaml:"top_k"`
	HistoryTurns int `yaml:"history_turns"`
}

type TrackerConfig struct {
	Retention     time.Duration `yaml:"retention"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// Defaults returns the configuration used when nothing else is set.
func Defaults() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Addr:            ":8000",
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{Path: "./data/docrag"},
		Index:   IndexConfig{Backend: "badger"},
		Blob: BlobConfig{
			Backend:   "fs",
			Dir:       "./data/blobs",
			Endpoint:  "localhost:9000",
			AccessKey: "minioadmin",
			SecretKey: "minioadmin",
			Bucket:    "pdf-documents",
			URLExpiry: time.Hour,
		},
		AI: AIConfig{
			Backend:         string(aiDefaults.Backend),
			Host:            aiDefaults.EmbeddingHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			GenerationModel: aiDefaults.GenerationModel,
			Dimensions:      aiDefaults.Dimensions,
			Temperature:     aiDefaults.Temperature,
			TopP:            aiDefaults.TopP,
			TopK:            aiDefaults.TopK,
			MaxTokens:       aiDefaults.MaxTokens,
		},
		Chunking: ChunkingConfig{Size: 2000, Overlap: 400, MinUnit: 200},
		Embedding: EmbeddingConfig{
			BatchSize:  10,
			BatchDelay: 50 * time.Millisecond,
			Mode:       "batch",
		},
		Pipeline: PipelineConfig{
			MaxFileSizeMB: 50,
			Workers:       2,
			MaxAttempts:   3,
			RetryDelay:    2 * time.Second,
			DocumentDelay: time.Second,
		},
		RAG:     RAGConfig{TopK: 5, HistoryTurns: 6},
		Tracker: TrackerConfig{Retention: 24 * time.Hour, SweepInterval: time.Hour},
	}
}

// Load builds a Config from, in increasing precedence: defaults, the YAML file
// at path (skipped when path is empty), a .env file in the working directory,
// and the process environment.
func Load(path string) (*Config, error) {
	// A missing .env is normal
	_ = godotenv.Load()

	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(ExpandPath(path))
		if err != nil {
			return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
		}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Storage.Path = ExpandPath(cfg.Storage.Path)
	cfg.Blob.Dir = ExpandPath(cfg.Blob.Dir)
	cfg.Server.WatchDir = ExpandPath(cfg.Server.WatchDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. References without
// a value or default are left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && strings.Contains(match, ":-")

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// ExpandPath resolves a leading ~/ to the user's home directory.
func ExpandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

// Validate normalizes c and checks it for consistency.
func (c *Config) Validate() error {
	c.Index.Backend = strings.ToLower(strings.TrimSpace(c.Index.Backend))
	c.Blob.Backend = strings.ToLower(strings.TrimSpace(c.Blob.Backend))
	c.Embedding.Mode = strings.ToLower(strings.TrimSpace(c.Embedding.Mode))

	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if !c.Storage.InMemory && c.Storage.Path == "" {
		add("storage.path is required unless storage.in_memory is set")
	}
	switch c.Index.Backend {
	case "badger":
	case "chroma":
		if c.Index.ChromaURL == "" {
			add("index.chroma_url is required for the chroma backend")
		}
	default:
		add("index.backend must be badger or chroma")
	}
	switch c.Blob.Backend {
	case "fs":
		if c.Blob.Dir == "" {
			add("blob.dir is required for the fs backend")
		}
	case "minio":
		if c.Blob.Endpoint == "" || c.Blob.Bucket == "" {
			add("blob.endpoint and blob.bucket are required for the minio backend")
		}
	default:
		add("blob.backend must be fs or minio")
	}
	if c.Chunking.Size < 1 {
		add("chunking.size must be positive")
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		add("chunking.overlap must be between 0 and chunking.size")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size must be positive")
	}
	if c.Embedding.Mode != "batch" && c.Embedding.Mode != "items" {
		add("embedding.mode must be batch or items")
	}
	if c.Pipeline.MaxFileSizeMB < 1 {
		add("pipeline.max_file_size_mb must be positive")
	}
	if c.Pipeline.MaxAttempts < 1 {
		add("pipeline.max_attempts must be positive")
	}
	if c.RAG.TopK < 1 {
		add("rag.top_k must be positive")
	}
	if c.RAG.HistoryTurns < 0 {
		add("rag.history_turns cannot be negative")
	}

	if err := c.AIOptions().Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return errors.New("config validation errors:\n  - " + strings.Join(errs, "\n  - "))
	}
	return nil
}

// AIOptions converts the ai section into an ai.Config.
func (c *Config) AIOptions() *ai.Config {
	opts := []ai.ConfigOption{
		ai.WithBackend(ai.Backend(c.AI.Backend)),
		ai.WithAPIKey(c.AI.APIKey),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithDimensions(c.AI.Dimensions),
		ai.WithSampling(c.AI.Temperature, c.AI.TopP, c.AI.TopK, c.AI.MaxTokens),
	}
	if c.AI.Host != "" {
		opts = append(opts, ai.WithHost(c.AI.Host))
	}
	if c.AI.SystemPrompt != "" {
		opts = append(opts, ai.WithSystemPrompt(c.AI.SystemPrompt))
	}
	return ai.NewConfig(opts...)
}

// MaxFileSize returns the upload limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Pipeline.MaxFileSizeMB) << 20
}
