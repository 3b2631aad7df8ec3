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

	"swell/internal/logger"
)

// fileConfig maps the top-level risk block.
type fileConfig struct {
	Risk Profile `yaml:"risk"`
}

// Snapshot is one immutable view of the profile. Version increments on every
// successful reload so consumers can tell which profile produced a cycle.
type Snapshot struct {
	Version  int64     `json:"version"`
	LoadedAt time.Time `json:"loaded_at"`
	Profile  Profile   `json:"profile"`
}

// ChangeListener fires after a successful reload.
type ChangeListener func(Snapshot)

// Registry loads the profile file, watches it for edits and revalidates on
// every change. A reload that fails schema or cross-field validation keeps
// the previous snapshot in force.
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// schemaJSON requires every field and bounds each one; it rejects unknown
// keys so a typo cannot silently fall back to a default.
const schemaJSON = `{
  "type": "object",
  "required": ["risk"],
  "properties": {
    "risk": {
      "type": "object",
      "additionalProperties": false,
      "required": [
        "max_position_exposure", "step_exposure", "max_side_exposure",
        "max_total_exposure", "freeze_level", "entry_percentile",
        "tighten_level", "tighten_margin", "entry_score_floor",
        "exit_score_floor", "overexposed_score", "momentum_exit_pct",
        "stop_loss_pct", "add_block_pl_pct", "stagnation_pct",
        "max_age_days", "top_window"
      ],
      "properties": {
        "max_position_exposure": {"type": "number", "exclusiveMinimum": 0, "maximum": 1},
        "step_exposure": {"type": "number", "exclusiveMinimum": 0, "maximum": 0.5},
        "max_side_exposure": {"type": "number", "exclusiveMinimum": 0, "maximum": 2},
        "max_total_exposure": {"type": "number", "exclusiveMinimum": 0, "maximum": 4},
        "freeze_level": {"type": "number", "minimum": 0.5, "maximum": 1},
        "entry_percentile": {"type": "number", "minimum": 0, "maximum": 0.99},
        "tighten_level": {"type": "number", "minimum": 0, "maximum": 1},
        "tighten_margin": {"type": "number", "minimum": 0, "maximum": 0.3},
        "entry_score_floor": {"type": "number", "minimum": 0, "maximum": 1},
        "exit_score_floor": {"type": "number", "minimum": 0, "maximum": 1},
        "overexposed_score": {"type": "number", "minimum": 0, "maximum": 1},
        "momentum_exit_pct": {"type": "number", "minimum": 0},
        "stop_loss_pct": {"type": "number", "maximum": 0},
        "add_block_pl_pct": {"type": "number", "maximum": 0},
        "stagnation_pct": {"type": "number", "minimum": 0},
        "max_age_days": {"type": "integer", "minimum": 1},
        "top_window": {"type": "integer", "minimum": 1}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("risk_profile.json", schemaJSON)

// NewRegistry reads the profile file and watches it for updates.
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("risk profile registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read risk profile failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("risk profile reload failed, keeping version %d: %v", r.Snapshot().Version, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the profile currently in force.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange registers a listener for future reloads.
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	p, err := readProfileFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profile:  p,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("Risk profile version %d loaded from %s", version, filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("risk profile listener")
			cb(snap)
		}(fn)
	}
}

func readProfileFile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read risk profile failed: %w", err)
	}

	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return Profile{}, fmt.Errorf("parse risk profile failed: %w", err)
	}
	if err := compiledSchema.Validate(jsonRoundTrip(doc)); err != nil {
		return Profile{}, fmt.Errorf("risk profile rejected by schema: %w", err)
	}

	var cfg fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Profile{}, fmt.Errorf("decode risk profile failed: %w", err)
	}
	if err := cfg.Risk.validate(); err != nil {
		return Profile{}, err
	}
	return cfg.Risk, nil
}

// jsonRoundTrip normalizes yaml-decoded values into the shapes the schema
// validator expects, ints included.
func jsonRoundTrip(doc any) any {
	raw, err := json.Marshal(doc)
	if err != nil {
		return doc
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return doc
	}
	return out
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}

// Static serves a fixed profile for callers that do not watch a file.
type Static struct {
	snap Snapshot
}

func NewStatic(p Profile) *Static {
	return &Static{snap: Snapshot{Version: 1, LoadedAt: time.Now(), Profile: p}}
}

func (s *Static) Snapshot() Snapshot { return s.snap }
