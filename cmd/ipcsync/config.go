package main

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"

	"gitlab.com/slon/ipcsync/rwlock"
	"gitlab.com/slon/ipcsync/sandwich"
)

var ErrInvalidConfig = errors.New("invalid config")

// Config is the on-disk configuration. Flags override values from the file.
type Config struct {
	LogLevel    string         `yaml:"log_level"`
	MetricsAddr string         `yaml:"metrics_addr"`
	Sandwich    SandwichConfig `yaml:"sandwich"`
	RWLock      RWLockConfig   `yaml:"rwlock"`
}

type SandwichConfig struct {
	Strategy       string        `yaml:"strategy"`
	Rounds         int           `yaml:"rounds"`
	ActionDuration time.Duration `yaml:"action_duration"`
	Assignment     []string      `yaml:"assignment"`
	Seed           int64         `yaml:"seed"`
}

type RWLockConfig struct {
	Policy  string        `yaml:"policy"`
	Readers int           `yaml:"readers"`
	Writers int           `yaml:"writers"`
	Hold    time.Duration `yaml:"hold"`
	RunFor  time.Duration `yaml:"run_for"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Sandwich: SandwichConfig{
			Strategy:       sandwich.Semaphore.String(),
			ActionDuration: sandwich.DefaultActionDuration,
			Assignment:     []string{"bread", "cheese", "meat"},
		},
		RWLock: RWLockConfig{
			Policy:  rwlock.ReaderPreference.String(),
			Readers: 4,
			Writers: 2,
			Hold:    10 * time.Millisecond,
			RunFor:  5 * time.Second,
		},
	}
}

// loadConfig reads the YAML file at path on top of the defaults.
// An empty path or an empty file yields the defaults.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return config, nil
	}

	if err := yaml.UnmarshalStrict(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return config, nil
}

// applyFlags copies every flag the user set explicitly onto c.
func (c *Config) applyFlags(fs *pflag.FlagSet) error {
	var err error
	setString := func(name string, dst *string) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetString(name)
		}
	}
	setInt := func(name string, dst *int) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetInt(name)
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if err == nil && fs.Changed(name) {
			*dst, err = fs.GetDuration(name)
		}
	}

	setString("log-level", &c.LogLevel)
	setString("metrics-addr", &c.MetricsAddr)

	setString("strategy", &c.Sandwich.Strategy)
	setInt("rounds", &c.Sandwich.Rounds)
	setDuration("action-duration", &c.Sandwich.ActionDuration)
	if err == nil && fs.Changed("assignment") {
		c.Sandwich.Assignment, err = fs.GetStringSlice("assignment")
	}
	if err == nil && fs.Changed("seed") {
		c.Sandwich.Seed, err = fs.GetInt64("seed")
	}

	setString("policy", &c.RWLock.Policy)
	setInt("readers", &c.RWLock.Readers)
	setInt("writers", &c.RWLock.Writers)
	setDuration("hold", &c.RWLock.Hold)
	setDuration("run-for", &c.RWLock.RunFor)

	if err != nil {
		return fmt.Errorf("failed to read flags: %w", err)
	}
	return nil
}

func (c *Config) Validate() error {
	if _, err := c.Sandwich.options(); err != nil {
		return err
	}
	if _, err := c.RWLock.policy(); err != nil {
		return err
	}
	if c.RWLock.Readers < 0 || c.RWLock.Writers < 0 {
		return fmt.Errorf("%w: negative reader or writer count", ErrInvalidConfig)
	}
	if c.RWLock.Hold < 0 || c.RWLock.RunFor < 0 {
		return fmt.Errorf("%w: negative rwlock duration", ErrInvalidConfig)
	}
	return nil
}

func (c SandwichConfig) assignment() ([sandwich.NumHolders]sandwich.Item, error) {
	var items [sandwich.NumHolders]sandwich.Item
	if len(c.Assignment) != sandwich.NumHolders {
		return items, fmt.Errorf("%w: assignment needs %d items, got %d",
			ErrInvalidConfig, sandwich.NumHolders, len(c.Assignment))
	}
	for h, name := range c.Assignment {
		it, err := sandwich.ParseItem(name)
		if err != nil {
			return items, fmt.Errorf("%w: holder %d: %w", ErrInvalidConfig, h, err)
		}
		items[h] = it
	}
	if err := sandwich.ValidateAssignment(items); err != nil {
		return items, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return items, nil
}

// options translates the section into exchange options. A zero seed leaves
// the exchange to seed itself from the clock.
func (c SandwichConfig) options() ([]sandwich.Option, error) {
	strategy, err := sandwich.ParseStrategy(c.Strategy)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	items, err := c.assignment()
	if err != nil {
		return nil, err
	}
	if c.Rounds < 0 {
		return nil, fmt.Errorf("%w: negative rounds", ErrInvalidConfig)
	}
	if c.ActionDuration < 0 {
		return nil, fmt.Errorf("%w: negative action duration", ErrInvalidConfig)
	}

	opts := []sandwich.Option{
		sandwich.WithStrategy(strategy),
		sandwich.WithAssignment(items),
		sandwich.WithActionDuration(c.ActionDuration),
	}
	if c.Seed != 0 {
		opts = append(opts, sandwich.WithSource(rand.New(rand.NewSource(c.Seed))))
	}
	return opts, nil
}

func (c RWLockConfig) policy() (rwlock.Policy, error) {
	p, err := rwlock.ParsePolicy(c.Policy)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return p, nil
}
