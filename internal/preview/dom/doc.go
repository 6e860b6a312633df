/*
Package dom is a headless, script-only document used to run previews
without a browser.

A Frame parses the assembled document with golang.org/x/net/html, answers
selector queries through goquery, and executes inline scripts in a private
goja VM on the frame's own goroutine. Element objects are live proxies over
the parsed tree, so scripts that set textContent or innerHTML change what
HTML and Text report afterwards.

The frame is restricted the same way a sandbox="allow-scripts" iframe is:

  - location writes and window.open do nothing
  - form submit() does nothing
  - network and module-loading globals throw
  - window.parent exposes postMessage and nothing else

Messages posted to the parent are serialized with JSON.stringify inside the
VM and decoded on the host, and only those tagged with the preview source
are delivered.
*/
package dom
