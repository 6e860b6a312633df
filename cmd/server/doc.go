// Package main is the entry point for the code execution sandbox server.
//
// The server backs the IDE's run button and live preview:
//
//	Frontend (editor) → POST /execute, /classify, /cancel
//	                  → GET  /preview (sandboxed iframe host page)
//	                  → WS   /stream  (results, preview console, reloads)
//
// Configuration comes from the environment (see internal/infrastructure/config);
// flags override it:
//
//	./server -port 8000 -timeout 3s
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
