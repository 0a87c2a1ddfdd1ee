// Package http exposes the fetch pipeline and the service registry over a
// JSON API.
//
// POST /fetch takes a webfetch.Request and answers with the fitted
// response. Failures carry the structured error object and a status
// derived from its code (see StatusFor).
package http
