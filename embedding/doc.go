// Package embedding turns ordered text segments into vectors.
//
// A Batcher splits its input into fixed-size batches that are sent one after
// another with a fixed delay in between. Failures never shorten the output:
// a text that could not be embedded keeps a nil entry at its position. Use
// Pairs to keep chunks and vectors together when dropping those entries.
package embedding
