package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"chain_chaos/internal/chaos"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type HarnessConfig struct {
	NodeCount     int    `yaml:"node_count" validate:"gte=1,lte=64"`
	ShardCount    int    `yaml:"shard_count" validate:"eq=0"`
	BootNodeIndex int    `yaml:"boot_node_index" validate:"gte=0,ltfield=NodeCount"`
	HeightTarget  uint64 `yaml:"height_target" validate:"gte=1"`

	// DropRatio is the probability that any intercepted message is
	// discarded instead of delivered.
	DropRatio float64 `yaml:"drop_ratio" validate:"gte=0,lte=1"`

	TimeoutSeconds      int64 `yaml:"timeout" validate:"gte=1"`
	PollIntervalMillis  int64 `yaml:"poll_interval_ms" validate:"gte=1"`
	BlockIntervalMillis int64 `yaml:"block_interval_ms" validate:"gte=1"`

	LogPath     string `yaml:"log_path"`
	RulePath    string `yaml:"rule_path"`
	MetricsPort string `yaml:"metrics_port"`
}

func (c *HarnessConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *HarnessConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c *HarnessConfig) BlockInterval() time.Duration {
	return time.Duration(c.BlockIntervalMillis) * time.Millisecond
}

// DefaultConfig mirrors the reference experiment: four single-shard
// validators, node-1 as boot node, 5% drop ratio, height target 10 and
// a 90 second deadline polled once per second.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		NodeCount:           4,
		ShardCount:          0,
		BootNodeIndex:       1,
		HeightTarget:        10,
		DropRatio:           0.05,
		TimeoutSeconds:      90,
		PollIntervalMillis:  1000,
		BlockIntervalMillis: 250,
		LogPath:             "",
		RulePath:            "",
		MetricsPort:         "",
	}
}

// LoadHarnessConfig reads <basePath>/config/chaos.yml. A missing file is
// not an error: the defaults describe a complete runnable experiment.
func LoadHarnessConfig(basePath string) (*HarnessConfig, error) {
	cfg := DefaultConfig()

	if basePath == "" {
		exePath, err := os.Executable()
		if err != nil {
			return nil, err
		}
		basePath = filepath.Dir(exePath)
	}
	configPath := filepath.Join(basePath, "config", "chaos.yml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			if err := Validate(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config against its struct tags.
func Validate(cfg *HarnessConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		return fmt.Errorf("invalid harness config: %w", err)
	}
	return nil
}

// LoadFaultRules reads the link block list from rulePath. An empty path
// yields an empty rule set; a missing file inside a configured rule path
// is an error, the experiment asked for rules it cannot have.
func LoadFaultRules(rulePath string) (*chaos.LinkRules, error) {
	rules := chaos.NewLinkRules()
	if rulePath == "" {
		return rules, nil
	}

	ruleFile := filepath.Join(rulePath, "Link_BlockList.conf")
	if err := loadLinkRules(ruleFile, rules); err != nil {
		return nil, err
	}
	return rules, nil
}

// loadLinkRules reads the rule file line by line and inserts each link
// into the rule set. Blank lines and #-comments are skipped.
func loadLinkRules(filePath string, rules *chaos.LinkRules) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		from, to, both, err := chaos.ParseLinkRule(line)
		if err != nil {
			return err
		}
		if both {
			rules.BlockBoth(from, to)
		} else {
			rules.Block(from, to)
		}
	}

	return scanner.Err()
}
