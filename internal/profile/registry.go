// Package profile manages the hot-reloadable risk profile file: the symbol
// whitelist plus per-symbol execution overrides. The file is schema-checked
// on every load; a bad edit keeps the previous snapshot instead of taking
// down the running process.
package profile

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sentinel/internal/logger"
)

// Profile is one named risk profile. Zero-valued fields mean "use the
// global executor config".
type Profile struct {
	ID                 string   `yaml:"id"`
	Description        string   `yaml:"description"`
	Symbols            []string `yaml:"symbols"`
	MinConfidence      float64  `yaml:"min_confidence"`
	ReduceFraction     float64  `yaml:"reduce_fraction"`
	CooldownSeconds    int      `yaml:"cooldown_seconds"`
	MaxDailyExecutions int      `yaml:"max_daily_executions"`
}

// FileConfig maps the profile file.
type FileConfig struct {
	Symbols  []string           `yaml:"symbols"`
	Profiles map[string]Profile `yaml:"profiles"`
}

// Snapshot is an immutable view of one loaded file generation.
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Symbols  map[string]bool
	Profiles map[string]Profile
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

const schemaJSON = `{
  "type": "object",
  "properties": {
    "symbols": {"type": "array", "items": {"type": "string"}},
    "profiles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "id": {"type": "string"},
          "description": {"type": "string"},
          "symbols": {"type": "array", "items": {"type": "string"}},
          "min_confidence": {"type": "number", "minimum": 0, "maximum": 1},
          "reduce_fraction": {"type": "number", "minimum": 0, "maximum": 1},
          "cooldown_seconds": {"type": "integer", "minimum": 0},
          "max_daily_executions": {"type": "integer", "minimum": 0}
        },
        "additionalProperties": false
      }
    }
  },
  "required": ["symbols"],
  "additionalProperties": false
}`

var fileSchema = jsonschema.MustCompileString("profile.schema.json", schemaJSON)

// Registry loads the profile file and watches it for edits.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry reads the profile file and starts watching for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("profile registry requires a path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read profile config failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("profile reload failed, keeping previous snapshot: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current generation.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// Subscribe registers a reload listener.
func (r *Registry) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// SymbolAllowed reports whether the symbol is on the whitelist. An empty
// whitelist allows nothing.
func (r *Registry) SymbolAllowed(symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Symbols[strings.ToUpper(strings.TrimSpace(symbol))]
}

// ProfileFor returns the profile governing a symbol: the first profile
// listing it explicitly, otherwise the profile named "default" when present.
func (r *Registry) ProfileFor(symbol string) (Profile, bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.snapshot.Profiles {
		for _, s := range p.Symbols {
			if strings.ToUpper(strings.TrimSpace(s)) == symbol {
				return p, true
			}
		}
	}
	def, ok := r.snapshot.Profiles["default"]
	return def, ok
}

func (r *Registry) reload() error {
	cfg, err := readProfileFile(r.path)
	if err != nil {
		return err
	}

	symbols := make(map[string]bool, len(cfg.Symbols))
	for _, s := range cfg.Symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s != "" {
			symbols[s] = true
		}
	}
	profiles := make(map[string]Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		if strings.TrimSpace(p.ID) == "" {
			p.ID = strings.TrimSpace(name)
		}
		profiles[p.ID] = p
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Symbols:  symbols,
		Profiles: profiles,
	}
	r.mu.Unlock()
	logger.Infof("Profile registry loaded %d symbols, %d profiles from %s",
		len(symbols), len(profiles), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("profile listener panic: %v", rec)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := Snapshot{
		Version:  src.Version,
		LoadedAt: src.LoadedAt,
		Symbols:  make(map[string]bool, len(src.Symbols)),
		Profiles: make(map[string]Profile, len(src.Profiles)),
	}
	for s := range src.Symbols {
		dst.Symbols[s] = true
	}
	for id, p := range src.Profiles {
		dst.Profiles[id] = p
	}
	return dst
}

// readProfileFile strict-decodes the YAML and validates the document
// against the embedded schema before anything is applied.
func readProfileFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read profile config failed: %w", err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	// The schema validator expects json-decoded values.
	jsonRaw, err := json.Marshal(doc)
	if err != nil {
		return FileConfig{}, fmt.Errorf("normalize profile config failed: %w", err)
	}
	var jsonDoc interface{}
	if err := json.Unmarshal(jsonRaw, &jsonDoc); err != nil {
		return FileConfig{}, fmt.Errorf("normalize profile config failed: %w", err)
	}
	if err := fileSchema.Validate(jsonDoc); err != nil {
		return FileConfig{}, fmt.Errorf("profile config rejected by schema: %w", err)
	}

	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse profile config failed: %w", err)
	}
	return cfg, nil
}
