package dom

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
)

type inbox struct {
	mu   sync.Mutex
	msgs []sandbox.Message
}

func (i *inbox) add(m sandbox.Message) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, m)
}

func (i *inbox) texts() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]string, 0, len(i.msgs))
	for _, m := range i.msgs {
		if cm, ok := m.Console(); ok {
			out = append(out, cm.String())
		}
	}
	return out
}

const report = `function report(ch, text) {
  window.parent.postMessage({ source: "sandbox-preview", type: "console", channel: ch, args: [String(text)] }, "*");
}`

func page(body string, scripts ...string) string {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><head><script>" + report + "</script></head><body>")
	b.WriteString(body)
	for _, s := range scripts {
		b.WriteString("<script>" + s + "</script>")
	}
	b.WriteString("</body></html>")
	return b.String()
}

func loadFrame(t *testing.T, doc string, opts ...Option) (*Frame, *inbox) {
	t.Helper()
	in := &inbox{}
	f := New(in.add, opts...)
	t.Cleanup(func() { _ = f.Close() })
	require.NoError(t, f.Load(context.Background(), doc))
	return f, in
}

func TestFrameScriptMutatesDocument(t *testing.T) {
	f, _ := loadFrame(t, page(`<div id="x"></div>`, `document.getElementById('x').textContent = 'hi';`))

	text, found, err := f.Text(context.Background(), "#x")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hi", text)
}

func TestFrameDOMOperations(t *testing.T) {
	f, in := loadFrame(t, page(`<ul id="list" class="a b"><li>one</li></ul><form id="f"></form>`, `
		var list = document.querySelector('#list');
		var li = document.createElement('li');
		li.textContent = 'two';
		list.appendChild(li);
		report('log', list.children.length);
		report('log', document.getElementsByClassName('b').length);
		report('log', list.querySelectorAll('li').length);
		report('log', li.parentNode === list);
		report('log', document.getElementById('list') === list);
		list.setAttribute('data-state', 'ready');
		report('log', list.getAttribute('data-state'));
		report('log', list.getAttribute('missing'));
		document.getElementById('f').submit();
		document.body.innerHTML += '<p id="tail">end</p>';
		report('log', document.querySelector('#tail').tagName);
	`))

	assert.Equal(t, []string{
		"[log] 2", "[log] 1", "[log] 2", "[log] true", "[log] true",
		"[log] ready", "[log] null", "[log] P",
	}, in.texts())

	doc, err := f.HTML(context.Background())
	require.NoError(t, err)
	assert.Contains(t, doc, `<li>two</li>`)
	assert.Contains(t, doc, `data-state="ready"`)
}

func TestFrameDropsUntaggedMessages(t *testing.T) {
	_, in := loadFrame(t, page("",
		`window.parent.postMessage({ type: "console", channel: "log", args: ["stray"] }, "*");`,
		`window.parent.postMessage("not an object", "*");`,
		`report('log', 'tagged');`,
	))
	assert.Equal(t, []string{"[log] tagged"}, in.texts())
}

func TestFrameNavigationIsInert(t *testing.T) {
	_, in := loadFrame(t, page("",
		`location.href = 'https://example.com'; location.assign('https://example.com');`,
		`report('log', location.href); report('log', window.top === window);`,
	))
	assert.Equal(t, []string{"[log] about:srcdoc", "[log] true"}, in.texts())
}

func TestFrameUncaughtErrors(t *testing.T) {
	_, in := loadFrame(t, page("",
		`window.onerror = function (message) { report('error', message); return true; };`,
		`fetch('https://example.com/data.json');`,
		`window.addEventListener('error', function (e) { report('warn', e.message); });`,
		`null.boom;`,
		`report('log', 'still running');`,
	))

	got := in.texts()
	require.Len(t, got, 4)
	assert.Equal(t, "[error] Uncaught Error: fetch is not available in the sandbox", got[0])
	assert.True(t, strings.HasPrefix(got[1], "[error] Uncaught TypeError"), got[1])
	assert.True(t, strings.HasPrefix(got[2], "[warn] Uncaught TypeError"), got[2])
	assert.Equal(t, "[log] still running", got[3])
}

func TestFrameUnhandledRejection(t *testing.T) {
	_, in := loadFrame(t, page("",
		`window.addEventListener('unhandledrejection', function (e) { report('error', 'rejected: ' + e.reason); });`,
		`Promise.reject('nope'); Promise.reject('handled').catch(function () {});`,
	))
	assert.Equal(t, []string{"[error] rejected: nope"}, in.texts())
}

func TestFrameLifecycleEvents(t *testing.T) {
	_, in := loadFrame(t, page("",
		`document.addEventListener('DOMContentLoaded', function () { report('log', 'ready ' + document.readyState); });`,
		`window.onload = function () { report('log', 'load ' + document.readyState); };`,
		`report('log', 'inline ' + document.readyState);`,
	))
	assert.Equal(t, []string{"[log] inline loading", "[log] ready interactive", "[log] load complete"}, in.texts())
}

func TestFrameTimers(t *testing.T) {
	_, in := loadFrame(t, page("",
		`setTimeout(function (who) { report('log', 'later ' + who); }, 10, 'timer');`,
		`var cancelled = setTimeout(function () { report('log', 'never'); }, 10); clearTimeout(cancelled);`,
		`var n = 0; var iv = setInterval(function () { n++; if (n === 3) { clearInterval(iv); report('log', 'ticks ' + n); } }, 5);`,
	))

	assert.Eventually(t, func() bool { return len(in.texts()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.ElementsMatch(t, []string{"[log] later timer", "[log] ticks 3"}, in.texts())
}

func TestFrameScriptTimeSlice(t *testing.T) {
	_, in := loadFrame(t, page("",
		`while (true) {}`,
		`report('log', 'next script');`,
	), WithScriptTimeout(30*time.Millisecond))
	assert.Equal(t, []string{"[log] next script"}, in.texts())
}

func TestFrameSkipsExternalScripts(t *testing.T) {
	_, in := loadFrame(t, `<html><head><script>`+report+`</script></head><body>
		<script src="https://example.com/lib.js">report('log', 'external');</script>
		<script type="text/template">report('log', 'template');</script>
		<script>report('log', 'inline');</script>
	</body></html>`)
	assert.Equal(t, []string{"[log] inline"}, in.texts())
}

func TestFrameLoadErrors(t *testing.T) {
	f := New(nil)
	require.NoError(t, f.Load(context.Background(), "<p>x</p>"))
	assert.ErrorIs(t, f.Load(context.Background(), "<p>y</p>"), ErrLoaded)

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	_, _, err := f.Text(context.Background(), "p")
	assert.ErrorIs(t, err, ErrClosed)

	closed := New(nil)
	require.NoError(t, closed.Close())
	assert.ErrorIs(t, closed.Load(context.Background(), "<p>z</p>"), ErrClosed)
}

func TestFrameLoadHonoursContext(t *testing.T) {
	f := New(nil, WithScriptTimeout(time.Minute))
	defer f.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := f.Load(ctx, "<script>while (true) {}</script>")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
