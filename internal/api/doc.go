// Package api exposes the REST surface for submitting natural-language
// staking requests, polling task status, and scraping runtime metrics.
package api
