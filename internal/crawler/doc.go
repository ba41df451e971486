// Package crawler drives the repository scan. The Engine walks the public
// repository listing with a since-cursor, groups non-fork repositories into
// detail batches, hands each batch to a harvester on its own goroutine and
// persists the cursor after every page.
package crawler
