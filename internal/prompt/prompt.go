// Package prompt loads versioned YAML prompt templates and renders them with
// strict variable checking. The loaded catalog is an immutable snapshot
// swapped atomically on reload, so in-flight renders never see a half-loaded
// state.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/corterra/askd/internal/apperr"
)

// Template is one self-describing prompt file.
type Template struct {
	Name      string   `yaml:"name"`
	Version   int      `yaml:"version"`
	System    string   `yaml:"system"`
	User      string   `yaml:"user"`
	Variables []string `yaml:"variables"`

	// Sampling parameters forwarded to the provider.
	Temperature float32 `yaml:"temperature"`
	TopP        float32 `yaml:"top_p"`
	MaxTokens   int     `yaml:"max_tokens"`

	// NoCitation waives the citation requirement in response validation.
	NoCitation bool `yaml:"no_citation"`
	// Deprecated versions are skipped by latest-version resolution but stay
	// addressable explicitly.
	Deprecated bool `yaml:"deprecated"`
}

// Rendered is the outcome of a successful render.
type Rendered struct {
	System      string
	User        string
	Name        string
	Version     int
	Temperature float32
	TopP        float32
	MaxTokens   int
	NoCitation  bool
}

type key struct {
	name    string
	version int
}

// catalog is an immutable snapshot of all loaded templates.
type catalog struct {
	byKey  map[key]*Template
	latest map[string]*Template
}

// Engine serves template renders from the current catalog snapshot.
type Engine struct {
	dir      string
	snapshot atomic.Pointer[catalog]
}

var varRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// NewEngine loads all templates from dir. Load failures are fatal; a server
// must not start with a broken catalog.
func NewEngine(dir string) (*Engine, error) {
	e := &Engine{dir: dir}
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the template directory and swaps the snapshot. On error
// the previous snapshot stays in service.
func (e *Engine) Reload() error {
	cat, err := loadDir(e.dir)
	if err != nil {
		return err
	}
	e.snapshot.Store(cat)
	return nil
}

func loadDir(dir string) (*catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading template directory: %w", err)
	}

	cat := &catalog{
		byKey:  make(map[key]*Template),
		latest: make(map[string]*Template),
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || (!strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml")) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("reading template %s: %w", name, err)
		}
		var tpl Template
		if err := yaml.Unmarshal(data, &tpl); err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		if err := validateTemplate(&tpl); err != nil {
			return nil, fmt.Errorf("template %s: %w", name, err)
		}
		k := key{name: tpl.Name, version: tpl.Version}
		if _, dup := cat.byKey[k]; dup {
			return nil, fmt.Errorf("template %s: duplicate %s v%d", name, tpl.Name, tpl.Version)
		}
		cat.byKey[k] = &tpl

		if !tpl.Deprecated {
			if cur, ok := cat.latest[tpl.Name]; !ok || tpl.Version > cur.Version {
				cat.latest[tpl.Name] = &tpl
			}
		}
	}
	return cat, nil
}

func validateTemplate(tpl *Template) error {
	if tpl.Name == "" {
		return fmt.Errorf("missing name")
	}
	if tpl.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	declared := make(map[string]bool, len(tpl.Variables))
	for _, v := range tpl.Variables {
		declared[v] = true
	}
	for _, text := range []string{tpl.System, tpl.User} {
		for _, m := range varRe.FindAllStringSubmatch(text, -1) {
			if !declared[m[1]] {
				return fmt.Errorf("references undeclared variable %q", m[1])
			}
		}
	}
	return nil
}

// Lookup fetches a template without rendering. Version 0 resolves the latest
// non-deprecated version.
func (e *Engine) Lookup(name string, version int) (*Template, error) {
	cat := e.snapshot.Load()
	if version > 0 {
		if tpl, ok := cat.byKey[key{name: name, version: version}]; ok {
			return tpl, nil
		}
		return nil, apperr.Newf(apperr.NotFound, "template %s v%d not found", name, version)
	}
	if tpl, ok := cat.latest[name]; ok {
		return tpl, nil
	}
	return nil, apperr.Newf(apperr.NotFound, "template %s not found", name)
}

// Names lists the template names present in the current snapshot.
func (e *Engine) Names() []string {
	cat := e.snapshot.Load()
	seen := make(map[string]bool)
	var names []string
	for k := range cat.byKey {
		if !seen[k.name] {
			seen[k.name] = true
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

// Render substitutes vars into the template. The supplied keys must exactly
// match the declared variables: omissions fail with TemplateVariableMissing,
// extras with UnknownVariable.
func (e *Engine) Render(name string, version int, vars map[string]string) (*Rendered, error) {
	tpl, err := e.Lookup(name, version)
	if err != nil {
		return nil, err
	}

	declared := make(map[string]bool, len(tpl.Variables))
	for _, v := range tpl.Variables {
		declared[v] = true
		if _, ok := vars[v]; !ok {
			return nil, apperr.Newf(apperr.TemplateVariableMissing, "template %s: missing variable %q", tpl.Name, v)
		}
	}
	for k := range vars {
		if !declared[k] {
			return nil, apperr.Newf(apperr.UnknownVariable, "template %s: unknown variable %q", tpl.Name, k)
		}
	}

	substitute := func(text string) string {
		return varRe.ReplaceAllStringFunc(text, func(m string) string {
			return vars[varRe.FindStringSubmatch(m)[1]]
		})
	}
	return &Rendered{
		System:      substitute(tpl.System),
		User:        substitute(tpl.User),
		Name:        tpl.Name,
		Version:     tpl.Version,
		Temperature: tpl.Temperature,
		TopP:        tpl.TopP,
		MaxTokens:   tpl.MaxTokens,
		NoCitation:  tpl.NoCitation,
	}, nil
}
