// Package project loads a folder of source files as sandbox artifacts.
package project

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/gabriel-vasile/mimetype"

	"github.com/GriffinCanCode/AgentOS/sandbox/internal/sandbox"
	"github.com/GriffinCanCode/AgentOS/sandbox/internal/shared/utils"
)

// DefaultIgnore skips dependency and VCS folders
var DefaultIgnore = []string{"**/node_modules/**", "**/.git/**", "**/dist/**", "**/.*"}

// LanguageFor maps a file extension to a language. ok is false for
// extensions the sandbox doesn't know.
func LanguageFor(name string) (sandbox.Language, bool) {
	switch strings.ToLower(path.Ext(name)) {
	case ".js", ".mjs", ".cjs", ".jsx":
		return sandbox.LanguageJavaScript, true
	case ".ts", ".mts", ".cts", ".tsx":
		return sandbox.LanguageTypeScript, true
	case ".html", ".htm":
		return sandbox.LanguageHTML, true
	case ".css":
		return sandbox.LanguageCSS, true
	}
	return "", false
}

// sniff classifies a file without a known extension by its content.
// Binary files report false.
func sniff(data []byte, name string) (sandbox.Language, bool) {
	mime := mimetype.Detect(data)
	switch {
	case mime.Is("text/html"):
		return sandbox.LanguageHTML, true
	case mime.Is("text/javascript"):
		return sandbox.LanguageJavaScript, true
	}
	for m := mime; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			// readable but not runnable here: kept as an unrecognized language
			ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
			if ext == "" {
				ext = "text"
			}
			return sandbox.Language(ext), true
		}
	}
	return "", false
}

// Project is a loaded folder. Paths are slash-separated and relative to the
// root, matching what the router classifies.
type Project struct {
	Root      string
	Artifacts []sandbox.Artifact
}

// Load walks dir and reads every text file not matched by ignore. Files over
// the artifact size limit are skipped.
func Load(ctx context.Context, dir string, ignore []string) (*Project, error) {
	for _, p := range ignore {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid ignore pattern %q", p)
		}
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if info, err := os.Stat(root); err != nil {
		return nil, fmt.Errorf("failed to open project: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}

	var (
		mu        sync.Mutex
		artifacts []sandbox.Artifact
	)
	conf := fastwalk.Config{Follow: false}

	err = fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err != nil {
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if ignored(ignore, rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		a, ok, readErr := read(p, rel)
		if readErr != nil || !ok {
			return nil
		}
		mu.Lock()
		artifacts = append(artifacts, a)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk project: %w", err)
	}

	sort.Slice(artifacts, func(i, j int) bool { return artifacts[i].Path < artifacts[j].Path })
	return &Project{Root: root, Artifacts: artifacts}, nil
}

func ignored(patterns []string, rel string, dir bool) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		// "**/x/**" names the folder itself too
		if ok, _ := doublestar.Match(p, rel+"/"); dir && ok {
			return true
		}
	}
	return false
}

func read(full, rel string) (sandbox.Artifact, bool, error) {
	info, err := os.Stat(full)
	if err != nil {
		return sandbox.Artifact{}, false, err
	}
	if info.Size() > utils.MaxArtifactSize {
		return sandbox.Artifact{}, false, nil
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return sandbox.Artifact{}, false, err
	}

	lang, ok := LanguageFor(rel)
	if !ok {
		if lang, ok = sniff(data, rel); !ok {
			return sandbox.Artifact{}, false, nil
		}
	}
	return sandbox.Artifact{Path: rel, Language: lang, Content: string(data)}, true, nil
}

// Find returns the artifact at rel
func (p *Project) Find(rel string) (sandbox.Artifact, bool) {
	rel = strings.TrimPrefix(filepath.ToSlash(path.Clean(rel)), "./")
	for _, a := range p.Artifacts {
		if a.Path == rel {
			return a, true
		}
	}
	return sandbox.Artifact{}, false
}

// Siblings returns the other artifacts in entry's folder. Markup comes
// first so a script entry picks up its page.
func (p *Project) Siblings(entry sandbox.Artifact) []sandbox.Artifact {
	dir := path.Dir(entry.Path)
	var markup, rest []sandbox.Artifact
	for _, a := range p.Artifacts {
		if a.Path == entry.Path || path.Dir(a.Path) != dir {
			continue
		}
		if a.Language == sandbox.LanguageHTML {
			markup = append(markup, a)
		} else {
			rest = append(rest, a)
		}
	}
	return append(markup, rest...)
}
