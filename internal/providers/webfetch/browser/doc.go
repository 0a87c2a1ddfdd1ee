/*
Package browser renders script-dependent pages in a sandboxed goja runtime.

A session is built in three steps, each consuming the token of the one
before:

	isolated, err := launcher.Isolate(ctx)      // bare runtime, deadline interrupt
	intercepted, err := isolated.Intercept(ic)  // network bound to the interceptor
	session, err := intercepted.Ready()
	defer session.Close()
	rendered, err := session.Render(ctx, u)

Launcher.Render runs the sequence in one call.

Every request a page makes (document, script, stylesheet, fetch, XHR,
iframe, media, websocket) goes through an Interceptor. Only http and https
GET or HEAD requests reach the network, through the same pinned transport
as plain HTTP fetches. WebSocket connections are always refused.

Rendering finishes once the page has had no request in flight and no short
timer pending for the network idle window. The DOM is then serialized
and, if needed, truncated at a UTF-8 boundary.
*/
package browser
