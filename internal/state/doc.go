// Package state owns the crawl's durable, crash-resumable files inside a
// data directory: the scan cursor (state.json), the completion ledger
// (fetched), and the result records (<name>.csv). Only one harvester
// process may use a data directory at a time; the locks here are
// process-local.
package state
