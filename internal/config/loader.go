package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".actiongate"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ACTIONGATE"
)

// ConfigPath returns the path to the config file.
// A config.yaml next to the default location is used when config.json is absent.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ACTIONGATE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	jsonPath := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(jsonPath); err == nil {
		return jsonPath, nil
	}
	for _, alt := range []string{"config.yaml", "config.yml"} {
		p := filepath.Join(dir, alt)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return jsonPath, nil
}

// Dir returns the actiongate state directory (~/.actiongate by default).
func Dir() (string, error) {
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("ACTIONGATE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	return os.UserHomeDir()
}

// ExpandHome replaces a leading ~ with the resolved home directory.
func ExpandHome(p string) string {
	if !strings.HasPrefix(p, "~") {
		return p
	}
	home, err := resolveHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}

// Load loads the configuration from file and environment variables.
// Priority: environment > file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	LoadEnvFileCandidates()

	path, err := ConfigPath()
	if err != nil {
		return cfg, nil // Use defaults if we can't find config path
	}

	data, err := loadResolvedConfig(path)
	if err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if cfg.Providers.OpenAI.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			cfg.Providers.OpenAI.APIKey = key
		} else if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
			cfg.Providers.OpenAI.APIKey = key
		}
	}

	normalize(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	groups := []struct {
		suffix string
		target any
	}{
		{"SLACK", &cfg.Slack},
		{"MODEL", &cfg.Model},
		{"OPENAI", &cfg.Providers.OpenAI},
		{"GATEWAY", &cfg.Gateway},
		{"GOOGLE", &cfg.Google},
		{"STORAGE", &cfg.Storage},
		{"AUDIT", &cfg.Audit},
		{"LOG", &cfg.Logging},
	}
	for _, g := range groups {
		if err := envconfig.Process(EnvPrefix+"_"+g.suffix, g.target); err != nil {
			return fmt.Errorf("env overlay %s_%s: %w", EnvPrefix, g.suffix, err)
		}
	}
	return nil
}

// normalize fills zero values back to defaults and canonicalizes enums.
func normalize(cfg *Config) {
	def := DefaultConfig()

	if cfg.Gateway.DedupCapacity <= 0 {
		cfg.Gateway.DedupCapacity = def.Gateway.DedupCapacity
	}
	if cfg.Gateway.DedupEvictBatch <= 0 || cfg.Gateway.DedupEvictBatch > cfg.Gateway.DedupCapacity {
		cfg.Gateway.DedupEvictBatch = cfg.Gateway.DedupCapacity / 2
	}
	if cfg.Gateway.ConfirmationTTLSeconds <= 0 {
		cfg.Gateway.ConfirmationTTLSeconds = def.Gateway.ConfirmationTTLSeconds
	}
	if cfg.Gateway.PruneIntervalSeconds <= 0 {
		cfg.Gateway.PruneIntervalSeconds = def.Gateway.PruneIntervalSeconds
	}
	if cfg.Gateway.HistoryLimit <= 0 {
		cfg.Gateway.HistoryLimit = def.Gateway.HistoryLimit
	}
	if cfg.Gateway.SearchLimit <= 0 {
		cfg.Gateway.SearchLimit = def.Gateway.SearchLimit
	}
	if cfg.Gateway.ProposalScanLimit <= 0 {
		cfg.Gateway.ProposalScanLimit = def.Gateway.ProposalScanLimit
	}
	if cfg.Gateway.DisplayLimit <= 0 {
		cfg.Gateway.DisplayLimit = def.Gateway.DisplayLimit
	}
	if strings.TrimSpace(cfg.Gateway.RedirectNotice) == "" {
		cfg.Gateway.RedirectNotice = DefaultRedirectNotice
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Gateway.AmbiguousReplyPolicy)) {
	case AmbiguousReject:
		cfg.Gateway.AmbiguousReplyPolicy = AmbiguousReject
	case AmbiguousClarify:
		cfg.Gateway.AmbiguousReplyPolicy = AmbiguousClarify
	default:
		cfg.Gateway.AmbiguousReplyPolicy = AmbiguousConfirm
	}

	if cfg.Slack.PostsPerSecond <= 0 {
		cfg.Slack.PostsPerSecond = def.Slack.PostsPerSecond
	}
	if cfg.Slack.PostBurst <= 0 {
		cfg.Slack.PostBurst = def.Slack.PostBurst
	}
	if cfg.Google.TimeoutSecs <= 0 {
		cfg.Google.TimeoutSecs = def.Google.TimeoutSecs
	}
	if strings.TrimSpace(cfg.Audit.KafkaTopic) == "" {
		cfg.Audit.KafkaTopic = def.Audit.KafkaTopic
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.KeyBackend)) {
	case "keyring", "auto":
		cfg.Storage.KeyBackend = strings.ToLower(strings.TrimSpace(cfg.Storage.KeyBackend))
	default:
		cfg.Storage.KeyBackend = "file"
	}
	if strings.TrimSpace(cfg.Storage.DBPath) == "" {
		cfg.Storage.DBPath = def.Storage.DBPath
	}
	cfg.Storage.DBPath = ExpandHome(cfg.Storage.DBPath)
	cfg.Logging.File = ExpandHome(cfg.Logging.File)
}

// Save writes the configuration to the config file as JSON.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// EnsureDir ensures a directory exists with proper permissions.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func loadResolvedConfig(path string) ([]byte, error) {
	obj, err := loadConfigObject(path, map[string]struct{}{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(obj)
}

func loadConfigObject(path string, visited map[string]struct{}) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if _, seen := visited[absPath]; seen {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	visited[absPath] = struct{}{}
	defer delete(visited, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}

	raw, err := decodeConfigDocument(absPath, data)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if includeRaw, ok := raw["$include"]; ok {
		includeFiles, err := parseIncludes(includeRaw)
		if err != nil {
			return nil, err
		}
		baseDir := filepath.Dir(absPath)
		for _, includePath := range includeFiles {
			resolvedPath := includePath
			if !filepath.IsAbs(includePath) {
				resolvedPath = filepath.Join(baseDir, includePath)
			}
			child, err := loadConfigObject(resolvedPath, visited)
			if err != nil {
				return nil, err
			}
			deepMerge(merged, child)
		}
	}
	delete(raw, "$include")
	substituteEnvValues(raw)
	deepMerge(merged, raw)
	return merged, nil
}

// decodeConfigDocument parses JSON or, by extension, YAML into a generic map.
func decodeConfigDocument(path string, data []byte) (map[string]any, error) {
	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("parse yaml %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func parseIncludes(v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return []string{t}, nil
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("$include entries must be strings")
			}
			if strings.TrimSpace(s) == "" {
				continue
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("$include must be a string or array of strings")
	}
}

func deepMerge(dst, src map[string]any) {
	for key, val := range src {
		srcMap, srcIsMap := val.(map[string]any)
		if !srcIsMap {
			dst[key] = val
			continue
		}
		dstMap, dstIsMap := dst[key].(map[string]any)
		if !dstIsMap {
			dstMap = map[string]any{}
			dst[key] = dstMap
		}
		deepMerge(dstMap, srcMap)
	}
}

func substituteEnvValues(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, item := range t {
			t[k] = substituteEnvValues(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = substituteEnvValues(item)
		}
		return t
	case string:
		return envPattern.ReplaceAllStringFunc(t, func(match string) string {
			parts := envPattern.FindStringSubmatch(match)
			if len(parts) != 2 {
				return match
			}
			if value, ok := os.LookupEnv(parts[1]); ok {
				return value
			}
			return match
		})
	default:
		return v
	}
}
