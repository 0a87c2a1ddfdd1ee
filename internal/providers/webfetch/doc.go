/*
Package webfetch retrieves a URL under policy and returns model-ready
Markdown chunks.

Pipeline.Fetch canonicalizes the URL, consults the document cache, fetches
over the SSRF-pinned HTTP client with robots checks on every hop, and falls
back to the sandboxed browser for script-rendered pages. The extracted
document is chunked to a token budget and fitted to the output byte cap.
Failures are *fetcherr.Error values and are never downgraded to a partial
result.

Provider exposes the pipeline as the web.fetch tool in the service registry.
*/
package webfetch
