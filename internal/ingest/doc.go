// Package ingest turns Java artifacts into index tuples and applies them.
//
// Three extractors feed the index: ScanArchive reads class entries out of
// zip-format archives, ListModuleImage parses the output of `jimage list`
// for a modular runtime image, and CrawlProject parses Java sources with
// tree-sitter. Pipeline runs an extractor and merges its tuples into an
// index.Store. A source that cannot be decoded is logged and skipped;
// storage failures abort the run.
package ingest
