// Package registry holds the set of monitored targets.
package registry

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/hamed0406/heartbeat/internal/domain"
)

// ErrNotFound is returned by Lookup for unknown target names.
var ErrNotFound = errors.New("target not found")

// ConfigError reports every problem found in a target definition set.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	return "invalid targets: " + strings.Join(e.Problems, "; ")
}

type snapshot struct {
	list   []domain.Target
	byName map[string]int
}

// Registry is safe for concurrent use. Load swaps the whole set at once so
// readers see either the old or the new set, never a mix.
type Registry struct {
	cur atomic.Pointer[snapshot]
}

func New() *Registry {
	r := &Registry{}
	r.cur.Store(&snapshot{byName: map[string]int{}})
	return r
}

// Load validates targets and replaces the current set. On error the previous
// set is kept.
func (r *Registry) Load(targets []domain.Target) error {
	snap, err := build(targets)
	if err != nil {
		return err
	}
	r.cur.Store(snap)
	return nil
}

// LoadFile parses a YAML targets file and loads it.
func (r *Registry) LoadFile(path string) error {
	targets, err := ReadFile(path)
	if err != nil {
		return err
	}
	return r.Load(targets)
}

// ReadFile parses a YAML targets file without loading it.
func ReadFile(path string) ([]domain.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open targets file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Validate reports the problems Load would reject targets for.
func Validate(targets []domain.Target) error {
	_, err := build(targets)
	return err
}

type fileFormat struct {
	Targets []domain.Target `yaml:"targets"`
}

// Parse decodes a targets document:
//
//	targets:
//	  - name: api
//	    url: https://api.example.com/health
func Parse(rd io.Reader) ([]domain.Target, error) {
	var ff fileFormat
	if err := yaml.NewDecoder(rd).Decode(&ff); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode targets: %w", err)
	}
	return ff.Targets, nil
}

// Lookup finds a target by name, ignoring case.
func (r *Registry) Lookup(name string) (domain.Target, error) {
	snap := r.cur.Load()
	i, ok := snap.byName[key(name)]
	if !ok {
		return domain.Target{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return cloneTarget(snap.list[i]), nil
}

// List returns the targets in load order.
func (r *Registry) List() []domain.Target {
	snap := r.cur.Load()
	out := make([]domain.Target, len(snap.list))
	for i, t := range snap.list {
		out[i] = cloneTarget(t)
	}
	return out
}

// cloneTarget copies the slice fields so callers cannot reach into a snapshot.
func cloneTarget(t domain.Target) domain.Target {
	t.Tags = slices.Clone(t.Tags)
	return t
}

func (r *Registry) Len() int {
	return len(r.cur.Load().list)
}

func build(targets []domain.Target) (*snapshot, error) {
	snap := &snapshot{
		list:   make([]domain.Target, 0, len(targets)),
		byName: make(map[string]int, len(targets)),
	}
	var problems []string
	for i, t := range targets {
		t.Name = strings.TrimSpace(t.Name)
		t.URL = strings.TrimSpace(t.URL)
		t.Method = strings.ToUpper(strings.TrimSpace(t.Method))
		if t.Method == "" {
			t.Method = http.MethodGet
		}

		label := fmt.Sprintf("entry %d", i)
		if t.Name != "" {
			label = fmt.Sprintf("entry %d (%s)", i, t.Name)
		}
		switch {
		case t.Name == "":
			problems = append(problems, label+": missing name")
			continue
		case t.URL == "":
			problems = append(problems, label+": missing url")
			continue
		case !IsValidHTTPURL(t.URL):
			problems = append(problems, label+": url must be absolute http(s)")
			continue
		}
		if prev, dup := snap.byName[key(t.Name)]; dup {
			problems = append(problems, fmt.Sprintf("%s: name collides with %q", label, snap.list[prev].Name))
			continue
		}
		snap.byName[key(t.Name)] = len(snap.list)
		snap.list = append(snap.list, cloneTarget(t))
	}
	if len(problems) > 0 {
		return nil, &ConfigError{Problems: problems}
	}
	return snap, nil
}

func key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
