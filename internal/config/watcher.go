package config

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/routewise-ai/routewise/internal/budget"
)

type policyFile struct {
	Rules []struct {
		Stage        string `yaml:"stage"`
		MinRemaining string `yaml:"min_remaining"`
	} `yaml:"rules"`
}

// WatchPolicy applies the policy file once, then reloads it on change until
// ctx is cancelled. Only stage thresholds are hot-reloadable; everything else
// requires a restart. A broken file logs and keeps the previous thresholds.
func WatchPolicy(ctx context.Context, path string, policy *budget.Policy, logger *zap.Logger) error {
	if path == "" {
		return nil
	}
	applyPolicyFile(path, policy, logger)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				// Editors fire bursts of events per save.
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					applyPolicyFile(path, policy, logger)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Policy watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func applyPolicyFile(path string, policy *budget.Policy, logger *zap.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Policy file unreadable, keeping current thresholds",
			zap.String("path", path), zap.Error(err))
		return
	}
	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		logger.Warn("Policy file malformed, keeping current thresholds",
			zap.String("path", path), zap.Error(err))
		return
	}
	rules := make([]budget.Rule, 0, len(pf.Rules))
	for _, r := range pf.Rules {
		d, err := time.ParseDuration(r.MinRemaining)
		if err != nil {
			logger.Warn("Skipping policy rule with bad duration",
				zap.String("stage", r.Stage), zap.String("value", r.MinRemaining))
			continue
		}
		rules = append(rules, budget.Rule{Stage: budget.Stage(r.Stage), MinRemaining: d})
	}
	policy.Update(rules)
	logger.Info("Budget policy applied", zap.String("path", path), zap.Int("rules", len(rules)))
}
