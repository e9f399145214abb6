package main

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/metrics"
	"github.com/aliaswap/aliaswap/internal/session"
	"github.com/aliaswap/aliaswap/internal/util"
)

type configReloader struct {
	path    string
	logger  *util.Logger
	session *session.Session
	metrics *metrics.Collector

	mu             sync.Mutex
	lastConfig     *config.Config
	lastSerialized []byte
}

func newConfigReloader(path string, logger *util.Logger, sess *session.Session, metrics *metrics.Collector, cfg *config.Config, serialized []byte) *configReloader {
	return &configReloader{
		path:           path,
		logger:         logger,
		session:        sess,
		metrics:        metrics,
		lastConfig:     cfg,
		lastSerialized: append([]byte(nil), serialized...),
	}
}

// Reload re-reads the config file. An invalid file leaves the running session
// untouched; a valid one restarts it, which reverts and re-applies.
func (r *configReloader) Reload(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Infof("%s, reloading config", reason)
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		r.logDiff(raw)
		return err
	}
	if lintErrs := cfg.Lint(); len(lintErrs) > 0 {
		r.logLintErrors(lintErrs)
		r.logDiff(raw)
		return cfg.Validate()
	}
	logWarnings(r.logger, cfg.Warnings())

	changes := config.Changes(r.lastConfig, cfg)
	r.lastConfig = cfg
	r.lastSerialized = append([]byte(nil), raw...)
	if len(changes) == 0 && r.session.State() == session.Running {
		r.logger.Infof("config unchanged; session kept")
		return nil
	}
	r.logger.Infof("config changed: %s", strings.Join(changes, ", "))

	if r.metrics != nil {
		r.metrics.SetEnabled(cfg.Telemetry.Enabled)
	}
	if err := r.session.Start(session.SettingsFromConfig(cfg)); err != nil {
		return fmt.Errorf("restart session: %w", err)
	}
	return nil
}

func (r *configReloader) logDiff(current []byte) {
	diff := config.DiffSerialized(r.lastSerialized, current)
	if diff == "" {
		r.logger.Warnf("config change rejected; unable to compute diff vs last valid config")
		return
	}
	r.logger.Warnf("config change rejected; diff vs last valid config:\n%s", diff)
}

func (r *configReloader) logLintErrors(errs []config.LintError) {
	r.logger.Warnf("config validation failed with %d issue(s):", len(errs))
	for _, lintErr := range errs {
		if lintErr.Path != "" {
			r.logger.Warnf(" - %s: %s", lintErr.Path, lintErr.Message)
			continue
		}
		r.logger.Warnf(" - %s", lintErr.Message)
	}
}

func logWarnings(logger *util.Logger, warnings []config.LintError) {
	for _, w := range warnings {
		logger.Warnf("config: %s", w.Error())
	}
}
