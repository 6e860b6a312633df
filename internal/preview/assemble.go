package preview

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

// placeholder stands in for a missing markup artifact
const placeholder = `<!DOCTYPE html><html><head><meta charset="utf-8"></head><body></body></html>`

// instrumentation wraps the console channels and installs the error hooks.
// It runs before any user script so everything they log is captured.
var instrumentation = `(function () {
  var parentWindow = window.parent;
  ` + sandbox.StringifySource + `
  var post = function (msg) {
    msg.source = "` + sandbox.PreviewSource + `";
    try { parentWindow.postMessage(msg, "*"); } catch (e) {}
  };
  var original = window.console || {};
  var wrapped = {};
  for (var key in original) { wrapped[key] = original[key]; }
  ["log", "error", "warn", "info"].forEach(function (channel) {
    var base = original[channel];
    wrapped[channel] = function () {
      if (typeof base === "function") {
        try { base.apply(original, arguments); } catch (e) {}
      }
      var args = [];
      for (var i = 0; i < arguments.length; i++) { args.push(__stringify(arguments[i])); }
      post({ type: "console", channel: channel, args: args });
    };
  });
  window.console = wrapped;
  window.onerror = function (message, source, line, column, error) {
    wrapped.error(error && error.stack ? String(message) + "\n" + error.stack : String(message));
    return false;
  };
  window.addEventListener("unhandledrejection", function (event) {
    var reason = event.reason;
    wrapped.error("Unhandled promise rejection: " + (reason instanceof Error ? reason.name + ": " + reason.message : __stringify(reason)));
  });
})();`

// Assemble builds one self-contained document. The style goes into the
// document's first <style> in <head> (created if absent); the script goes
// at the end of <body>. The instrumentation is the first thing in <head>.
// The html parser supplies <head> and <body> when the markup omits them.
func Assemble(markup, style, script string) (string, error) {
	if strings.TrimSpace(markup) == "" {
		markup = placeholder
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("failed to parse markup: %w", err)
	}

	root := doc.Nodes[0]
	if root.FirstChild == nil || root.FirstChild.Type != html.DoctypeNode {
		root.InsertBefore(&html.Node{Type: html.DoctypeNode, Data: "html"}, root.FirstChild)
	}

	head := doc.Find("head").First()
	body := doc.Find("body").First()
	if head.Length() == 0 || body.Length() == 0 {
		return "", fmt.Errorf("markup has no head or body")
	}

	headNode := head.Nodes[0]
	headNode.InsertBefore(rawElement(atom.Script, instrumentation), headNode.FirstChild)

	if style != "" {
		style = escapeClosing(style, "style")
		if existing := head.Find("style").First(); existing.Length() > 0 {
			existing.Nodes[0].AppendChild(&html.Node{Type: html.TextNode, Data: "\n" + style})
		} else {
			headNode.AppendChild(rawElement(atom.Style, style))
		}
	}

	if script != "" {
		body.Nodes[0].AppendChild(rawElement(atom.Script, escapeClosing(script, "script")))
	}

	return doc.Html()
}

// rawElement builds a <script> or <style> element. Their text is rendered
// verbatim, so the content must not contain its own closing tag.
func rawElement(a atom.Atom, text string) *html.Node {
	n := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}

// escapeClosing keeps user text from terminating its raw-text element early.
// Only the ASCII tag name is compared case-insensitively, so offsets always
// refer to the original text.
func escapeClosing(text, tag string) string {
	needle := "</" + tag
	var b strings.Builder
	last := 0
	for i := 0; i+len(needle) <= len(text); i++ {
		if text[i] != '<' || !asciiEqualFold(text[i:i+len(needle)], needle) {
			continue
		}
		b.WriteString(text[last:i])
		b.WriteString(`<\/`)
		last = i + 2
		i += len(needle) - 1
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// asciiEqualFold compares byte for byte, folding only ASCII letters. Bytes of
// multi-byte runes never match an ASCII tag name.
func asciiEqualFold(s, t string) bool {
	if len(s) != len(t) {
		return false
	}
	for i := 0; i < len(s); i++ {
		a, c := s[i], t[i]
		if 'A' <= a && a <= 'Z' {
			a += 'a' - 'A'
		}
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if a != c {
			return false
		}
	}
	return true
}
