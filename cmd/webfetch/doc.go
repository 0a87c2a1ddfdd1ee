// Command webfetch serves the fetch pipeline over HTTP or runs a single
// fetch from the command line.
//
//	webfetch serve --port 8000
//	webfetch fetch https://example.com/ --max-chunk-tokens 400
//
// Configuration comes from WEBFETCH_* environment variables and the
// optional file named by --config or WEBFETCH_CONFIG.
package main
