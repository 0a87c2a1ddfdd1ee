/*
Package tracing provides lightweight request tracing.

Each API request gets a span whose trace and span IDs are ULIDs. Callers may
continue an existing trace by sending X-Trace-ID and X-Span-ID; the IDs of
the request span are echoed back in the response headers. The fetch handlers
open a child span around each pipeline run. Finished spans are handed to a
buffered collector and logged with zap.

# Usage

	tracer := tracing.New("webfetch", logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))

	span, ctx := tracer.StartSpan(ctx, "web.fetch")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
