// Package watch feeds PDFs dropped into a directory to the ingestion pipeline.
package watch
