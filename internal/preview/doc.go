// Package preview assembles markup, style and script into one instrumented
// document and keeps it rendered as the sources change.
//
// The instrumentation forwards console calls, uncaught errors and unhandled
// rejections to the host through window.parent.postMessage. Rendering goes
// through a Frame: the headless dom.Frame by default, or a browser iframe
// fed from the HTTP server.
package preview
