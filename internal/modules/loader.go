// Package modules implements the default file-based loader behind
// Tmbdl's `gateway` import statement (spec.md §4.3.3, §6 "Module
// loader contract").
package modules

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thegian7/tmbdl/internal/config"
	"github.com/thegian7/tmbdl/internal/parser"
	"github.com/thegian7/tmbdl/internal/vm"
)

// cacheEntry is either a placeholder (still running, breaks cycles per
// spec.md §4.3.3) or the finished exports map of a module that has
// fully run.
type cacheEntry struct {
	exports *vm.MapObj
	done    bool
}

// FileLoader resolves `gateway` paths relative to the importing file's
// directory, canonicalizes to an absolute path for the cache key
// (spec.md §9 Open Question, resolved in DESIGN.md: absolute-path cache
// keys), and runs each module's top level exactly once in a fresh VM.
type FileLoader struct {
	cache   map[string]*cacheEntry
	natives func(*vm.VM)
}

// NewFileLoader creates a loader. installNatives is invoked on every
// nested VM it constructs, so imported modules see the same standard
// library as the root script (e.g. vm.RegisterStandardLibrary).
func NewFileLoader(installNatives func(*vm.VM)) *FileLoader {
	return &FileLoader{
		cache:   make(map[string]*cacheEntry),
		natives: installNatives,
	}
}

// Load implements vm.ModuleLoader.
func (l *FileLoader) Load(path string, fromDir string) (*vm.MapObj, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(fromDir, resolved)
	}
	if ext := filepath.Ext(resolved); ext == "" {
		resolved += config.SourceFileExt
	}
	key, err := filepath.Abs(resolved)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve module path %q: %w", path, err)
	}

	if entry, ok := l.cache[key]; ok {
		// Cycle participant: while the module is still running, the
		// placeholder holds its own empty exports map (the running
		// module's EXPORTs go to its nested VM's map, installed here only
		// once its top level finishes), so a cyclic importer receives an
		// empty map.
		return entry.exports, nil
	}

	src, err := os.ReadFile(key)
	if err != nil {
		return nil, fmt.Errorf("cannot read module %q: %w", key, err)
	}

	placeholder := &cacheEntry{exports: vm.NewMapObj()}
	l.cache[key] = placeholder

	program, errs := parser.ParseProgram(string(src))
	if len(errs) > 0 {
		return nil, fmt.Errorf("module %q: parse error: %s", key, errs[0].Error())
	}
	fn, compileErrs := vm.Compile(program)
	if len(compileErrs) > 0 {
		return nil, fmt.Errorf("module %q: compile error: %s", key, compileErrs[0].Error())
	}

	nested := vm.New()
	if l.natives != nil {
		l.natives(nested)
	}
	nested.SetLoader(l)
	nested.SetScriptDir(filepath.Dir(key))
	if _, err := nested.Run(fn); err != nil {
		return nil, fmt.Errorf("module %q: %w", key, err)
	}

	placeholder.exports = nested.Exports()
	placeholder.done = true
	return placeholder.exports, nil
}
