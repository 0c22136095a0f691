// Package filter decides which paths below an index root are admitted.
// The same Rules value is shared by the bulk scanner and the watcher so that
// both agree on extensions, excluded directories, whitelist globs,
// .gitignore files and the maximum depth.
package filter

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	ignore "github.com/sabhiram/go-gitignore"
)

// GitignoreFile is the name of the ignore file honoured when gitignore support is on.
const GitignoreFile = ".gitignore"

// DefaultExcludeDirs are directory names skipped by default.
var DefaultExcludeDirs = []string{"node_modules", ".git", "dist", "build"}

// ErrInvalidPattern indicates that a whitelist glob could not be compiled.
var ErrInvalidPattern = errors.New("invalid whitelist pattern")

// ignoreRule is a compiled ignore file anchored at baseRel ("" for the root).
type ignoreRule struct {
	baseRel string
	ign     *ignore.GitIgnore
}

// Rules holds the admission policy for one root.
type Rules struct {
	root        string
	extensions  map[string]struct{}
	excludeDirs map[string]struct{}
	excludeRel  []string
	whitelist   []glob.Glob
	patterns    []string
	maxDepth    int
	gitignore   bool

	mu      sync.RWMutex
	ignores []ignoreRule
	loaded  map[string]bool
}

// Option is a functional option for configuring Rules.
type Option func(*Rules) error

// WithExtensions restricts files to the given extensions.
// Extensions are normalized: lowercase and prefixed with "." if missing.
// An empty list admits every extension.
func WithExtensions(extensions ...string) Option {
	return func(r *Rules) error {
		for _, ext := range extensions {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			r.extensions[ext] = struct{}{}
		}
		return nil
	}
}

// WithExcludeDirs skips directories whose name matches one of names.
// Entries containing a separator are treated as root-relative paths.
func WithExcludeDirs(names ...string) Option {
	return func(r *Rules) error {
		for _, name := range names {
			name = strings.Trim(filepath.ToSlash(strings.TrimSpace(name)), "/")
			if name == "" {
				continue
			}
			if strings.Contains(name, "/") {
				r.excludeRel = append(r.excludeRel, name)
				continue
			}
			r.excludeDirs[name] = struct{}{}
		}
		return nil
	}
}

// WithWhitelist admits only files matching at least one glob pattern.
// Patterns use '/' as separator and match the relative path; a pattern
// without a '/' also matches the file name at any depth.
func WithWhitelist(patterns ...string) Option {
	return func(r *Rules) error {
		for _, p := range patterns {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			g, err := glob.Compile(p, '/')
			if err != nil {
				return fmt.Errorf("%w: %q: %v", ErrInvalidPattern, p, err)
			}
			r.whitelist = append(r.whitelist, g)
			r.patterns = append(r.patterns, p)
		}
		return nil
	}
}

// WithGitignore enables .gitignore handling.
func WithGitignore(enabled bool) Option {
	return func(r *Rules) error {
		r.gitignore = enabled
		return nil
	}
}

// WithMaxDepth limits admitted entries to depth segments below the root.
// 0 means unlimited. Negative values are set to 0.
func WithMaxDepth(depth int) Option {
	return func(r *Rules) error {
		if depth < 0 {
			depth = 0
		}
		r.maxDepth = depth
		return nil
	}
}

// New creates Rules for root with the given options.
func New(root string, opts ...Option) (*Rules, error) {
	r := &Rules{
		root:        filepath.Clean(root),
		extensions:  make(map[string]struct{}),
		excludeDirs: make(map[string]struct{}),
		loaded:      make(map[string]bool),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.gitignore {
		r.LoadIgnoreFile("")
	}

	return r, nil
}

// Root returns the root the rules are anchored at.
func (r *Rules) Root() string {
	return r.root
}

// MaxDepth returns the configured depth limit (0 = unlimited).
func (r *Rules) MaxDepth() int {
	return r.maxDepth
}

// Patterns returns the whitelist patterns as configured.
func (r *Rules) Patterns() []string {
	return append([]string(nil), r.patterns...)
}

// LoadIgnoreFile compiles the .gitignore file in dirRel, if any.
// Each directory is read at most once; missing files are not an error.
func (r *Rules) LoadIgnoreFile(dirRel string) {
	if !r.gitignore {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded[dirRel] {
		return
	}
	r.loaded[dirRel] = true

	file := filepath.Join(r.root, filepath.FromSlash(dirRel), GitignoreFile)
	if _, err := os.Stat(file); err != nil {
		return
	}
	ign, err := ignore.CompileIgnoreFile(file)
	if err != nil {
		return
	}
	r.ignores = append(r.ignores, ignoreRule{baseRel: dirRel, ign: ign})
}

// ForgetIgnoreFile drops the compiled ignore file for dirRel so the next
// LoadIgnoreFile call re-reads it.
func (r *Rules) ForgetIgnoreFile(dirRel string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.loaded, dirRel)
	kept := r.ignores[:0]
	for _, rule := range r.ignores {
		if rule.baseRel != dirRel {
			kept = append(kept, rule)
		}
	}
	r.ignores = kept
}

// AllowDir reports whether the directory at rel should be indexed.
func (r *Rules) AllowDir(rel string) bool {
	if rel == "" {
		return true
	}
	if r.exceedsDepth(rel) {
		return false
	}
	if r.excludedDir(rel) {
		return false
	}
	return !r.ignored(rel, true)
}

// Descend reports whether the walker should enter the directory at rel.
// A directory at the depth limit is indexed but not entered.
func (r *Rules) Descend(rel string) bool {
	if rel == "" {
		return true
	}
	if r.maxDepth > 0 && depthOf(rel) >= r.maxDepth {
		return false
	}
	return r.AllowDir(rel)
}

// AllowFile reports whether the file at rel should be indexed.
func (r *Rules) AllowFile(rel string) bool {
	if rel == "" || r.exceedsDepth(rel) {
		return false
	}
	if !r.matchExtension(rel) {
		return false
	}
	if !r.matchWhitelist(rel) {
		return false
	}
	if r.ancestorExcluded(rel) {
		return false
	}
	return !r.ignored(rel, false)
}

// Allow dispatches to AllowDir or AllowFile.
func (r *Rules) Allow(rel string, isDir bool) bool {
	if isDir {
		return r.AllowDir(rel) && !r.ancestorExcluded(rel)
	}
	return r.AllowFile(rel)
}

func (r *Rules) exceedsDepth(rel string) bool {
	return r.maxDepth > 0 && depthOf(rel) > r.maxDepth
}

// excludedDir checks the directory's own name and root-relative exclusions.
func (r *Rules) excludedDir(rel string) bool {
	if _, ok := r.excludeDirs[path.Base(rel)]; ok {
		return true
	}
	for _, ex := range r.excludeRel {
		if rel == ex {
			return true
		}
	}
	return false
}

// ancestorExcluded checks every parent directory of rel.
func (r *Rules) ancestorExcluded(rel string) bool {
	for dir := path.Dir(rel); dir != "." && dir != ""; dir = path.Dir(dir) {
		if r.excludedDir(dir) {
			return true
		}
	}
	return false
}

func (r *Rules) matchExtension(rel string) bool {
	if len(r.extensions) == 0 {
		return true
	}
	_, ok := r.extensions[strings.ToLower(path.Ext(rel))]
	return ok
}

func (r *Rules) matchWhitelist(rel string) bool {
	if len(r.whitelist) == 0 {
		return true
	}
	name := path.Base(rel)
	for i, g := range r.whitelist {
		if g.Match(rel) {
			return true
		}
		if !strings.Contains(r.patterns[i], "/") && g.Match(name) {
			return true
		}
	}
	return false
}

// ignored evaluates every ignore file anchored at an ancestor of rel.
func (r *Rules) ignored(rel string, isDir bool) bool {
	if !r.gitignore {
		return false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.ignores {
		sub := rel
		if rule.baseRel != "" {
			if !strings.HasPrefix(rel, rule.baseRel+"/") {
				continue
			}
			sub = rel[len(rule.baseRel)+1:]
		}
		if rule.ign.MatchesPath(sub) {
			return true
		}
		if isDir && rule.ign.MatchesPath(sub+"/") {
			return true
		}
	}
	return false
}

func depthOf(rel string) int {
	return strings.Count(rel, "/") + 1
}
