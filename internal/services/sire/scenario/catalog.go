// Package scenario provides the read-only catalog of scripted incident
// scenarios that sessions are bound to.
package scenario

import (
	"embed"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed scenarios/*.yaml
var builtinFS embed.FS

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Event is one timed entry of a scenario timeline.
type Event struct {
	Title         string  `yaml:"title" json:"title"`
	Description   string  `yaml:"description" json:"description"`
	OffsetSeconds float64 `yaml:"timeOffsetSec" json:"timeOffsetSec"`
}

// Scenario is an immutable incident script.
type Scenario struct {
	Key         string  `yaml:"key" json:"key"`
	Title       string  `yaml:"title" json:"title"`
	Description string  `yaml:"description" json:"description"`
	Timeline    []Event `yaml:"timeline" json:"timeline"`
}

// Summary describes a scenario without its timeline.
type Summary struct {
	Key         string `json:"key"`
	Title       string `json:"title"`
	Description string `json:"description"`
	EventCount  int    `json:"eventCount"`
}

// Catalog maps scenario keys to scenarios. It is immutable after load and
// safe for concurrent use.
type Catalog struct {
	byKey map[string]Scenario
}

// NewCatalog builds a catalog from scenario values. Later entries override
// earlier ones with the same key.
func NewCatalog(scenarios ...Scenario) *Catalog {
	c := &Catalog{byKey: make(map[string]Scenario, len(scenarios))}
	for _, sc := range scenarios {
		c.byKey[sc.Key] = clone(sc)
	}
	return c
}

// Builtin returns the catalog of scenarios shipped with the server.
func Builtin() (*Catalog, error) {
	scenarios, err := loadFS(builtinFS, "scenarios")
	if err != nil {
		return nil, fmt.Errorf("load builtin scenarios: %w", err)
	}
	return NewCatalog(scenarios...), nil
}

// Load returns the builtin catalog overlaid with every scenario file found in
// dir. An empty dir yields the builtin catalog.
func Load(dir string) (*Catalog, error) {
	builtin, err := loadFS(builtinFS, "scenarios")
	if err != nil {
		return nil, fmt.Errorf("load builtin scenarios: %w", err)
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return NewCatalog(builtin...), nil
	}
	extra, err := loadFS(os.DirFS(dir), ".")
	if err != nil {
		return nil, fmt.Errorf("load scenarios from %s: %w", dir, err)
	}
	return NewCatalog(append(builtin, extra...)...), nil
}

// ScenarioByKey returns the scenario registered under key.
func (c *Catalog) ScenarioByKey(key string) (Scenario, bool) {
	if c == nil {
		return Scenario{}, false
	}
	sc, ok := c.byKey[key]
	if !ok {
		return Scenario{}, false
	}
	return clone(sc), true
}

// Keys lists scenario keys in lexical order.
func (c *Catalog) Keys() []string {
	if c == nil {
		return nil
	}
	keys := make([]string, 0, len(c.byKey))
	for key := range c.byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Summaries lists every scenario without timelines, ordered by key.
func (c *Catalog) Summaries() []Summary {
	keys := c.Keys()
	out := make([]Summary, 0, len(keys))
	for _, key := range keys {
		sc := c.byKey[key]
		out = append(out, Summary{
			Key:         sc.Key,
			Title:       sc.Title,
			Description: sc.Description,
			EventCount:  len(sc.Timeline),
		})
	}
	return out
}

func loadFS(fsys fs.FS, root string) ([]Scenario, error) {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, err
	}
	var scenarios []Scenario
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := path.Ext(name)
		switch ext {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		key := strings.TrimSuffix(name, ext)
		if !keyPattern.MatchString(key) || len(key) > 64 {
			log.Printf("sire: skipping scenario file with invalid key %q", name)
			continue
		}
		raw, err := fs.ReadFile(fsys, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		var sc Scenario
		// JSON is a subset of YAML, so one decoder covers both formats.
		if err := yaml.Unmarshal(raw, &sc); err != nil {
			return nil, fmt.Errorf("decode %s: %w", name, err)
		}
		sc.Key = key
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}

func clone(sc Scenario) Scenario {
	sc.Timeline = append([]Event(nil), sc.Timeline...)
	return sc
}
