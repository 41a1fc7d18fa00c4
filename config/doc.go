// Package config loads the docrag service configuration.
//
// Values are layered: Defaults, then an optional YAML file (with ${VAR} and
// ${VAR:-default} expansion), then a .env file, then the environment. The
// environment names follow the original deployment (GOOGLE_API_KEY, CHUNK_SIZE,
// CHUNK_OVERLAP, MAX_FILE_SIZE_MB, MINIO_*) plus DOCRAG_* for everything else.
// Command-line flags are applied by the caller after Load.
package config
