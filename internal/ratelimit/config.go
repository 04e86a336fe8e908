// config.go: Rule file loading and live reload for the limiter
package ratelimit

import (
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Duration parses YAML durations written as strings ("1m", "15m30s")
// or raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// RuleConfig is the YAML shape of a single rule.
type RuleConfig struct {
	Name           string   `yaml:"name" json:"name"`
	Window         Duration `yaml:"window" json:"window"`
	Max            int64    `yaml:"max" json:"max"`
	Key            string   `yaml:"key" json:"key"`
	SkipSuccessful bool     `yaml:"skip_successful" json:"skip_successful"`
	SkipFailed     bool     `yaml:"skip_failed" json:"skip_failed"`
	Enabled        *bool    `yaml:"enabled" json:"enabled"`
}

// ruleFile is the YAML document: a list of rules.
type ruleFile struct {
	Rules []RuleConfig `yaml:"rules"`
}

// BuildRules converts rule configs to immutable Rule values.
func BuildRules(configs []RuleConfig) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(configs))
	for _, rc := range configs {
		if rc.Name == "" {
			return nil, fmt.Errorf("rule missing name")
		}
		if rc.Window <= 0 || rc.Max <= 0 {
			return nil, fmt.Errorf("rule %s: window and max must be positive", rc.Name)
		}
		if rc.SkipSuccessful && rc.SkipFailed {
			return nil, fmt.Errorf("rule %s: skip_successful and skip_failed are mutually exclusive", rc.Name)
		}
		keyFn, err := keyFuncFor(rc.Key)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", rc.Name, err)
		}
		enabled := true
		if rc.Enabled != nil {
			enabled = *rc.Enabled
		}
		rules = append(rules, &Rule{
			Name:           rc.Name,
			Window:         time.Duration(rc.Window),
			Max:            rc.Max,
			Key:            keyFn,
			SkipSuccessful: rc.SkipSuccessful,
			SkipFailed:     rc.SkipFailed,
			Enabled:        enabled,
		})
	}
	return rules, nil
}

// LoadRuleFile parses a YAML rule file.
func LoadRuleFile(path string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rule file: %w", err)
	}
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parsing rule file: %w", err)
	}
	return BuildRules(rf.Rules)
}

// WatchRuleFile reloads the limiter's rules when the file changes.
// A broken edit keeps the previous rule set in place.
func WatchRuleFile(path string, limiter *Limiter, logger *zap.Logger) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rule watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching rule file: %w", err)
	}

	log := logger.Named("ratelimit-config")
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				rules, err := LoadRuleFile(path)
				if err != nil {
					log.Warn("rule file reload failed, keeping previous rules",
						zap.String("file", path),
						zap.Error(err))
					continue
				}
				limiter.SetRules(rules)
				log.Info("rate limit rules reloaded",
					zap.String("file", path),
					zap.Int("rules", len(rules)))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn("rule watcher error", zap.Error(err))
			}
		}
	}()

	return watcher, nil
}
