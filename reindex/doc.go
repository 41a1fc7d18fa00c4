// Package reindex rebuilds the vector collections of processed documents.
package reindex
