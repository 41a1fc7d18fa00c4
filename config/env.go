package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// applyEnv overrides cfg with variables from the environment.
func applyEnv(cfg *Config) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" && err == nil {
			n, convErr := strconv.Atoi(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" && err == nil {
			b, convErr := strconv.ParseBool(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok && v != "" && err == nil {
			d, convErr := time.ParseDuration(v)
			if convErr != nil {
				err = fmt.Errorf("%s: %w", key, convErr)
				return
			}
			*dst = d
		}
	}

	str("DOCRAG_ADDR", &cfg.Server.Addr)
	if port := os.Getenv("PORT"); port != "" && os.Getenv("DOCRAG_ADDR") == "" {
		cfg.Server.Addr = ":" + port
	}
	str("DOCRAG_WATCH_DIR", &cfg.Server.WatchDir)
	str("DOCRAG_DB_PATH", &cfg.Storage.Path)
	flag("DOCRAG_DB_IN_MEMORY", &cfg.Storage.InMemory)

	str("DOCRAG_INDEX_BACKEND", &cfg.Index.Backend)
	str("CHROMA_URL", &cfg.Index.ChromaURL)

	str("DOCRAG_BLOB_BACKEND", &cfg.Blob.Backend)
	str("DOCRAG_BLOB_DIR", &cfg.Blob.Dir)
	str("MINIO_ENDPOINT", &cfg.Blob.Endpoint)
	str("MINIO_ACCESS_KEY", &cfg.Blob.AccessKey)
	str("MINIO_SECRET_KEY", &cfg.Blob.SecretKey)
	str("MINIO_BUCKET", &cfg.Blob.Bucket)
	flag("MINIO_SECURE", &cfg.Blob.Secure)

	str("DOCRAG_AI_BACKEND", &cfg.AI.Backend)
	str("GOOGLE_API_KEY", &cfg.AI.APIKey)
	str("DOCRAG_AI_API_KEY", &cfg.AI.APIKey)
	str("DOCRAG_AI_HOST", &cfg.AI.Host)
	str("DOCRAG_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	str("DOCRAG_GENERATION_MODEL", &cfg.AI.GenerationModel)
	num("DOCRAG_EMBEDDING_DIMENSIONS", &cfg.AI.Dimensions)

	num("CHUNK_SIZE", &cfg.Chunking.Size)
	num("CHUNK_OVERLAP", &cfg.Chunking.Overlap)
	num("DOCRAG_EMBEDDING_BATCH_SIZE", &cfg.Embedding.BatchSize)
	dur("DOCRAG_EMBEDDING_BATCH_DELAY", &cfg.Embedding.BatchDelay)
	num("MAX_FILE_SIZE_MB", &cfg.Pipeline.MaxFileSizeMB)
	num("DOCRAG_WORKERS", &cfg.Pipeline.Workers)
	dur("DOCRAG_TRACKER_RETENTION", &cfg.Tracker.Retention)

	return err
}
