// Package crawler defines the fetch capability shared by the HTTP and browser
// strategies: request and response types, the retry policy that throttles and
// retries page loads, and the randomized user-agent catalog.
package crawler
