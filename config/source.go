// Package config implements Marlin's configuration source (spec.md §4.B
// / component B): sectioned, typed, optionally encrypted settings with
// layered overrides (global / per-URL / per-site).
//
// Grounded on the teacher's buffkit.Config struct and its use of
// gobuffalo/envy for environment overrides in buffkit.Wire; the on-disk
// format is BurntSushi/toml, already an indirect teacher dependency,
// promoted to direct here as the keyed configuration source's concrete
// file format (spec.md §1 treats the format itself as external, but
// some concrete format has to back Marlin's own default).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/gobuffalo/envy"
)

type section map[string]interface{}
type document map[string]section

// Source is a layered, sectioned configuration store. Lookup order for
// Get(persistName, section, key), highest precedence first:
//
//  1. Environment variable MARLIN_<SECTION>_<KEY> (via gobuffalo/envy)
//  2. The per-site override document, if persistName is non-empty and a
//     matching override file was loaded
//  3. The global document loaded from the primary config file
type Source struct {
	mu        sync.RWMutex
	global    document
	overrides map[string]document // persistName -> document
	envPrefix string
}

// NewSource returns an empty Source. Use LoadFile to populate it.
func NewSource() *Source {
	return &Source{
		global:    document{},
		overrides: map[string]document{},
		envPrefix: "MARLIN",
	}
}

// LoadFile parses a TOML file into the global document, merging into
// (not replacing) any sections already present.
func (s *Source) LoadFile(path string) error {
	doc, err := decodeTOMLFile(path)
	if err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeDocument(s.global, doc)
	return nil
}

// LoadOverride parses a TOML file as the override document for the
// given persisted name (see PersistName / PersistNameByURL).
func (s *Source) LoadOverride(persistName, path string) error {
	doc, err := decodeTOMLFile(path)
	if err != nil {
		return fmt.Errorf("config: loading override %s: %w", path, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.overrides[persistName]
	if !ok {
		existing = document{}
		s.overrides[persistName] = existing
	}
	mergeDocument(existing, doc)
	return nil
}

// LoadOverrideDir scans dir for "*.config" files and loads each as an
// override keyed by its base file name (matching PersistName's output),
// skipping files that fail to parse as TOML rather than aborting the
// whole load — a malformed override for one site should not prevent
// every other site from starting.
func (s *Source) LoadOverrideDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: reading override directory %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".config") {
			continue
		}
		_ = s.LoadOverride(e.Name(), filepath.Join(dir, e.Name()))
	}
	return nil
}

func decodeTOMLFile(path string) (document, error) {
	var raw map[string]map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}
	doc := document{}
	for sec, kv := range raw {
		doc[sec] = section(kv)
	}
	return doc, nil
}

func mergeDocument(dst, src document) {
	for sec, kv := range src {
		existing, ok := dst[sec]
		if !ok {
			existing = section{}
			dst[sec] = existing
		}
		for k, v := range kv {
			existing[k] = v
		}
	}
}

// Get resolves a single key under the env > per-site-override > global
// precedence chain described on Source.
func (s *Source) Get(persistName, sectionName, key string) Value {
	if envKey := s.envKey(sectionName, key); envy.Exists(envKey) {
		return Value{raw: envy.Get(envKey, ""), present: true}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if persistName != "" {
		if doc, ok := s.overrides[persistName]; ok {
			if sec, ok := doc[sectionName]; ok {
				if v, ok := sec[key]; ok {
					return Value{raw: v, present: true}
				}
			}
		}
	}
	if sec, ok := s.global[sectionName]; ok {
		if v, ok := sec[key]; ok {
			return Value{raw: v, present: true}
		}
	}
	return Value{}
}

// GetGlobal is Get with no site override layer consulted.
func (s *Source) GetGlobal(sectionName, key string) Value {
	return s.Get("", sectionName, key)
}

func (s *Source) envKey(sectionName, key string) string {
	return strings.ToUpper(s.envPrefix + "_" + sectionName + "_" + key)
}

// Section returns a flattened snapshot of a section layered for
// persistName, env taking precedence over override taking precedence
// over global. Only keys present in the global or override document are
// listed; a key set only in the environment does not appear. Intended
// for call sites that need to enumerate keys (e.g. validating the whole
// Rewrite section) rather than look one up.
func (s *Source) Section(persistName, sectionName string) map[string]Value {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]Value{}
	if sec, ok := s.global[sectionName]; ok {
		for k, v := range sec {
			out[k] = Value{raw: v, present: true}
		}
	}
	if persistName != "" {
		if doc, ok := s.overrides[persistName]; ok {
			if sec, ok := doc[sectionName]; ok {
				for k, v := range sec {
					out[k] = Value{raw: v, present: true}
				}
			}
		}
	}
	for k := range out {
		if envKey := s.envKey(sectionName, k); envy.Exists(envKey) {
			out[k] = Value{raw: envy.Get(envKey, ""), present: true}
		}
	}
	return out
}
