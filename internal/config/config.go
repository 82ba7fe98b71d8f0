package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Catalog modes.
const (
	ModeJSON = "json"
	ModeXML  = "xml"
)

// Admission policies.
const (
	PolicyHardCap       = "hard_cap"
	PolicyImportance    = "importance"
	PolicyUnconditional = "unconditional"
)

// Raw tree layouts.
const (
	LayoutFlat   = "flat"
	LayoutNested = "nested"
)

// Index collision policies.
const (
	CollisionLastWins = "last_wins"
	CollisionError    = "error"
)

// DefaultPartSizeBytes is the split-archive part size (70 MiB).
const DefaultPartSizeBytes int64 = 73400320

// Config holds application configuration.
type Config struct {
	// DataRoot is the directory all relative tree paths below are resolved against.
	DataRoot string `json:"data_root,omitempty"`

	// Tree locations, relative to DataRoot unless absolute.
	RawDir        string `json:"raw_dir,omitempty"`
	CompressedDir string `json:"compressed_dir,omitempty"`
	SplitDir      string `json:"split_dir,omitempty"`
	MergedDir     string `json:"merged_dir,omitempty"`
	CategoriesDir string `json:"categories_dir,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`

	// Mode selects the catalog format: "json" or "xml".
	// It also picks the eligible log extension (txt for json, log for xml).
	Mode string `json:"mode,omitempty"`

	// Policy selects the admission policy: hard_cap, importance or unconditional.
	// Empty means hard_cap for json mode and importance for xml mode.
	Policy string `json:"policy,omitempty"`

	// HardCap is the maximum number of catalog entries admitted per category.
	HardCap int `json:"hard_cap,omitempty"`

	// NumCategories and ImportanceDivisor parameterize the importance threshold:
	// (total eligible logs / NumCategories) / ImportanceDivisor.
	NumCategories     int     `json:"num_categories,omitempty"`
	ImportanceDivisor float64 `json:"importance_divisor,omitempty"`

	// PartSizeBytes is the fixed size of each split-archive part.
	PartSizeBytes int64 `json:"part_size_bytes,omitempty"`

	// UseSplitStorage makes the pipeline materialize the raw tree from SplitDir
	// (merge, then decompress) when the raw tree is missing.
	UseSplitStorage bool `json:"use_split_storage,omitempty"`

	// Layout of the raw tree: "flat" (root/sub/file) or "nested"
	// (root/repo/failed/github/attempt/file).
	Layout string `json:"layout,omitempty"`

	// CollisionPolicy decides what happens when two eligible logs share a name:
	// "last_wins" keeps the later one, "error" aborts the index scan.
	CollisionPolicy string `json:"collision_policy,omitempty"`

	// CategorySuffix is appended to integer category ids to form xml-mode directory names.
	CategorySuffix string `json:"category_suffix,omitempty"`

	// Workers bounds the number of categories copied concurrently. 1 means sequential.
	Workers int `json:"workers,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`

	// LogJSON switches the stderr logger to the JSON encoder.
	LogJSON bool `json:"log_json,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataRoot:          "data",
		RawDir:            "train",
		CompressedDir:     "compressed_data",
		SplitDir:          "train_splitted",
		MergedDir:         "train_merged",
		CategoriesDir:     "categories",
		OutputDir:         "reordered",
		Mode:              ModeJSON,
		HardCap:           70,
		NumCategories:     9,
		ImportanceDivisor: 2.5,
		PartSizeBytes:     DefaultPartSizeBytes,
		Layout:            LayoutFlat,
		CollisionPolicy:   CollisionLastWins,
		CategorySuffix:    "_cat",
		Workers:           1,
		LogLevel:          "info",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.logsort.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.logsort) and repo (.logsort) directories.
// Repo config is found by walking upward from startDir to find the nearest .logsort/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .logsort/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".logsort", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{
		DataRoot:          pickString(overlay.DataRoot, base.DataRoot),
		RawDir:            pickString(overlay.RawDir, base.RawDir),
		CompressedDir:     pickString(overlay.CompressedDir, base.CompressedDir),
		SplitDir:          pickString(overlay.SplitDir, base.SplitDir),
		MergedDir:         pickString(overlay.MergedDir, base.MergedDir),
		CategoriesDir:     pickString(overlay.CategoriesDir, base.CategoriesDir),
		OutputDir:         pickString(overlay.OutputDir, base.OutputDir),
		Mode:              pickString(overlay.Mode, base.Mode),
		Policy:            pickString(overlay.Policy, base.Policy),
		Layout:            pickString(overlay.Layout, base.Layout),
		CollisionPolicy:   pickString(overlay.CollisionPolicy, base.CollisionPolicy),
		CategorySuffix:    pickString(overlay.CategorySuffix, base.CategorySuffix),
		LogLevel:          pickString(overlay.LogLevel, base.LogLevel),
		HardCap:           overlay.HardCap,
		NumCategories:     overlay.NumCategories,
		ImportanceDivisor: overlay.ImportanceDivisor,
		PartSizeBytes:     overlay.PartSizeBytes,
		Workers:           overlay.Workers,
	}

	// Numeric scalars: overlay wins if non-zero, else base
	if result.HardCap == 0 {
		result.HardCap = base.HardCap
	}
	if result.NumCategories == 0 {
		result.NumCategories = base.NumCategories
	}
	if result.ImportanceDivisor == 0 {
		result.ImportanceDivisor = base.ImportanceDivisor
	}
	if result.PartSizeBytes == 0 {
		result.PartSizeBytes = base.PartSizeBytes
	}
	if result.Workers == 0 {
		result.Workers = base.Workers
	}

	// Booleans: overlay wins if true, else base
	result.UseSplitStorage = base.UseSplitStorage || overlay.UseSplitStorage
	result.LogJSON = base.LogJSON || overlay.LogJSON

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// Validate checks enumerated fields and numeric bounds.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeJSON, ModeXML:
	default:
		return fmt.Errorf("mode must be %q or %q, got %q", ModeJSON, ModeXML, c.Mode)
	}
	switch c.Policy {
	case "", PolicyHardCap, PolicyImportance, PolicyUnconditional:
	default:
		return fmt.Errorf("policy must be one of: %s, %s, %s", PolicyHardCap, PolicyImportance, PolicyUnconditional)
	}
	switch c.Layout {
	case LayoutFlat, LayoutNested:
	default:
		return fmt.Errorf("layout must be %q or %q, got %q", LayoutFlat, LayoutNested, c.Layout)
	}
	switch c.CollisionPolicy {
	case CollisionLastWins, CollisionError:
	default:
		return fmt.Errorf("collision_policy must be %q or %q", CollisionLastWins, CollisionError)
	}
	if c.HardCap <= 0 {
		return errors.New("hard_cap must be > 0")
	}
	if c.NumCategories <= 0 {
		return errors.New("num_categories must be > 0")
	}
	if c.ImportanceDivisor <= 0 {
		return errors.New("importance_divisor must be > 0")
	}
	if c.PartSizeBytes <= 0 {
		return errors.New("part_size_bytes must be > 0")
	}
	if c.Workers < 1 {
		return errors.New("workers must be >= 1")
	}
	return nil
}

// Extension returns the eligible log file extension for the configured mode.
func (c *Config) Extension() string {
	if c.Mode == ModeXML {
		return "log"
	}
	return "txt"
}

// EffectivePolicy returns the configured policy, defaulting by mode.
func (c *Config) EffectivePolicy() string {
	if c.Policy != "" {
		return c.Policy
	}
	if c.Mode == ModeXML {
		return PolicyImportance
	}
	return PolicyHardCap
}

// Path resolves a tree location against DataRoot.
func (c *Config) Path(dir string) string {
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(c.DataRoot, dir)
}

func pickString(overlay, base string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
