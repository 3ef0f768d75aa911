// Package crawler holds the types shared across the scrape pipeline: crawl requests
// and results, the clinic record returned to callers, the error taxonomy, URL
// validation, and the interfaces implemented by the fetcher, renderer, extractor,
// and publisher packages.
package crawler
