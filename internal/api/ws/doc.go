/*
Package ws streams executions and live preview events to the desktop
frontend over a WebSocket at /stream.

Client frames: execute (artifact plus siblings, answered by a result
carrying the same id), render (a debounced preview edit), cancel, console
(lines a browser-hosted preview iframe posted to the frontend) and ping.

Server frames: connected, result, console, reload, error and pong. Console
and reload come from the shared renderer and go to every open stream
through the Hub.

Frames are encoded with sonic; each connection has one writer goroutine.
*/
package ws
