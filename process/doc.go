// Package process tracks asynchronous ingestion runs in memory.
//
// Each run gets its own ProcessRecord that moves pending -> processing ->
// completed|failed. Terminal records are final: retrying a document creates a new
// process id. Records are swept once they have been terminal for longer than the
// retention window (24h by default), either opportunistically from Create or by
// Run on a timer.
package process
