package feed

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

var ErrOwnerNotFound = errors.New("owner not found")

// ConfigCache holds the block configurations loaded from the blocks directory,
// one YAML file per owner block.
type ConfigCache struct {
	blocksDir string
	cache     map[string]*Config
	mu        sync.RWMutex
}

func NewConfigCache(blocksDir string) *ConfigCache {
	return &ConfigCache{
		blocksDir: blocksDir,
		cache:     make(map[string]*Config),
	}
}

func (cc *ConfigCache) Run() error {
	if _, err := os.Stat(cc.blocksDir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(cc.blocksDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		fileName := filepath.Base(file)
		blockName := fileName[:len(fileName)-4]

		config, err := cc.LoadConfig(blockName)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Configuration loaded", "block", blockName, "owner_id", config.OwnerID, "enabled", config.Settings.Enabled, "sources", len(config.Sources))
	}

	return nil
}

func (cc *ConfigCache) LoadConfig(blockName string) (*Config, error) {
	configFile := cc.getConfigFilePath(blockName)
	blockConfig, err := cc.parseConfig(configFile)
	if err != nil {
		return nil, err
	}

	blockConfig.Name = blockName

	if err := cc.validateConfig(blockConfig); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	for name, other := range cc.cache {
		if name != blockName && other.OwnerID == blockConfig.OwnerID {
			return nil, fmt.Errorf("owner %d is already configured by block '%s'", blockConfig.OwnerID, name)
		}
	}
	cc.cache[blockConfig.Name] = blockConfig

	return blockConfig, nil
}

func (cc *ConfigCache) GetConfig(blockName string) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	blockConfig, ok := cc.cache[blockName]
	if !ok {
		return nil, fmt.Errorf("block config with name '%s' not found", blockName)
	}
	return blockConfig, nil
}

func (cc *ConfigCache) GetOwnerConfig(ownerID int64) (*Config, error) {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	for _, blockConfig := range cc.cache {
		if blockConfig.OwnerID == ownerID {
			return blockConfig, nil
		}
	}
	return nil, fmt.Errorf("%w: %d", ErrOwnerNotFound, ownerID)
}

func (cc *ConfigCache) GetConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	configsCopy := make(map[string]*Config, len(cc.cache))
	for k, v := range cc.cache {
		configsCopy[k] = v
	}
	return configsCopy
}

func (cc *ConfigCache) GetEnabledConfigs() map[string]*Config {
	cc.mu.RLock()
	defer cc.mu.RUnlock()

	enabledConfigs := make(map[string]*Config)
	for k, v := range cc.cache {
		if v.Settings.Enabled {
			enabledConfigs[k] = v
		}
	}
	return enabledConfigs
}

func (cc *ConfigCache) GetConfigCount() int {
	cc.mu.RLock()
	defer cc.mu.RUnlock()
	return len(cc.cache)
}

func (cc *ConfigCache) parseConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var blockConfig Config
	if err := yaml.Unmarshal(data, &blockConfig); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if blockConfig.Settings.MaxItems == 0 {
		blockConfig.Settings.MaxItems = 100
	}

	return &blockConfig, nil
}

func (cc *ConfigCache) validateConfig(blockConfig *Config) error {
	if blockConfig == nil {
		return fmt.Errorf("blockConfig is nil")
	}

	if blockConfig.Name == "" {
		return fmt.Errorf("block name is required")
	}
	if blockConfig.OwnerID <= 0 {
		return fmt.Errorf("owner_id must be positive")
	}

	nonNegativeFields := map[string]int{
		"max items": blockConfig.Settings.MaxItems,
		"timeout":   blockConfig.Settings.Timeout,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	seen := make(map[string]bool, len(blockConfig.Sources))
	for i, source := range blockConfig.Sources {
		u, err := url.Parse(source)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid source URL at index %d: %s", i, source)
		}
		if seen[source] {
			return fmt.Errorf("duplicate source URL at index %d: %s", i, source)
		}
		seen[source] = true
	}

	return nil
}

func (cc *ConfigCache) getConfigFilePath(blockName string) string {
	return filepath.Join(cc.blocksDir, blockName+".yml")
}
