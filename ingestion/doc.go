// Package ingestion turns uploaded documents into per-document vector collections.
//
// A run moves a document through an ordered list of stages:
//
//	download (2%) -> extract (5%) -> chunk (10%) -> embed (15-85%) -> index (90%) -> complete (100%)
//
// Each stage reports its progress to a ProgressSink before it starts; the embed
// stage also reports after every batch. A document may only enter a run while it
// is pending or failed. Any stage failure marks the document failed and returns
// the stage's error unchanged apart from a stage prefix. There is no retry inside
// the pipeline: a retry is a new run with a new process id.
//
// Usage:
//
//	pipeline, err := ingestion.NewPipeline(docs, index, blobs, batcher, pdftext.New(),
//	    ingestion.WithTracker(tracker))
//	rec := tracker.Create(docID)
//	res, err := pipeline.Process(ctx, docID, rec.ProcessId)
package ingestion
