// Package ws serves fetches over a WebSocket at /ws.
//
// Clients send {"type":"fetch","id":"...","request":{...}} and receive
// {"type":"result","id":"...","result":{...}} or {"type":"error",...}.
// A "ping" frame is answered with "pong".
package ws
