package sandbox

import "strings"

// hostPostBinding is the global the host installs before the bundle runs.
// The prelude captures it and deletes it so user code never sees it.
const hostPostBinding = "__sandboxPost"

// StringifySource defines __stringify, the best-effort argument formatter
// shared by the isolated bundle and the preview instrumentation.
// Objects go through JSON.stringify; anything else, or anything JSON rejects
// (circular references, BigInt), falls back to String().
const StringifySource = `function __stringify(value) {
  if (typeof value === "object" && value !== null) {
    try {
      var json = JSON.stringify(value);
      if (json !== undefined) { return json; }
    } catch (e) {}
  }
  try { return String(value); } catch (e) { return "[object]"; }
}`

// BlockedGlobals are replaced with stubs that throw on invocation
var BlockedGlobals = []string{
	"fetch",
	"XMLHttpRequest",
	"WebSocket",
	"EventSource",
	"importScripts",
	"require",
}

// preludeSource installs the console channels and network stubs, then
// evaluates to the failure reporter. The reporter stays with the host and is
// never bound in any scope user code can reach.
const preludeSource = `(function (post) {
  "use strict";
  ` + StringifySource + `
  var send = function (msg) { post(JSON.stringify(msg)); };
  var forward = function (channel) {
    return function () {
      var args = [];
      for (var i = 0; i < arguments.length; i++) { args.push(__stringify(arguments[i])); }
      send({ type: "console", channel: channel, args: args });
    };
  };
  var con = {};
  ["log", "error", "warn", "info"].forEach(function (c) { con[c] = forward(c); });
  con.debug = con.log;
  globalThis.console = con;
  var block = function (name) {
    return function () { throw new Error(name + " is not available in the sandbox"); };
  };
  BLOCKED.forEach(function (name) { globalThis[name] = block(name); });
  var describe = function (e) {
    if (e instanceof Error) { return e.name + ": " + e.message; }
    return __stringify(e);
  };
  return function (e) {
    var stack = "";
    try { if (e && e.stack) { stack = String(e.stack); } } catch (ignored) {}
    send({ type: "error", message: describe(e), stack: stack });
  };
})((function () { var p = globalThis.` + hostPostBinding + `; delete globalThis.` + hostPostBinding + `; return p; })());`

// Prelude returns the script evaluated before user code: console channels
// forward structured messages and network globals throw. Its completion
// value is the function that reports a thrown value as an error message.
func Prelude() string {
	blocked := `["` + strings.Join(BlockedGlobals, `", "`) + `"]`
	return strings.Replace(preludeSource, "BLOCKED", blocked, 1)
}

// Bundle wraps user source in a function scope of its own. Exceptions that
// escape it are reported by the host through the prelude's reporter, and
// completion is signalled by the host once the script returns.
// User code starts on the first line so stack line numbers stay meaningful.
func Bundle(source string) string {
	var b strings.Builder
	b.Grow(len(source) + 32)
	b.WriteString(`(function () { `)
	b.WriteString(source)
	b.WriteString("\n})();")
	return b.String()
}
