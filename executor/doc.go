// Package executor runs ingestion jobs in the background.
//
// Submit records a pending process and hands the job to an ants worker pool.
// A failed run is retried with exponential backoff unless its error is terminal
// (conflict, empty input, not found, no valid points). Every retry is tracked
// under a fresh process id because terminal process records are never reopened.
package executor
