package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/control"
	"github.com/aliaswap/aliaswap/internal/htmldoc"
	"github.com/aliaswap/aliaswap/internal/metrics"
	"github.com/aliaswap/aliaswap/internal/scan"
	"github.com/aliaswap/aliaswap/internal/session"
	"github.com/aliaswap/aliaswap/internal/tree"
	"github.com/aliaswap/aliaswap/internal/util"
)

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "aliaswap", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	docPath := flag.String("document", "", "HTML document to load")
	outPath := flag.String("output", "", "write the rewritten document here on shutdown")
	logLevel := flag.String("log-level", "info", "log level (trace|debug|info|warn|error)")
	flag.Parse()

	if *docPath == "" {
		exitErr(errors.New("--document is required"))
	}

	logger := util.NewLogger(util.ParseLogLevel(*logLevel))
	defer logger.Sync()

	cfg, raw, err := loadConfig(*cfgPath)
	if err != nil {
		exitErr(err)
	}
	logWarnings(logger, cfg.Warnings())

	doc, err := loadDocument(*docPath)
	if err != nil {
		exitErr(err)
	}
	logger.Infof("loaded %s (%d nodes)", *docPath, doc.Len())

	cfgFullPath, err := filepath.Abs(*cfgPath)
	if err != nil {
		exitErr(fmt.Errorf("resolve config path: %w", err))
	}
	cfgFullPath = filepath.Clean(cfgFullPath)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		exitErr(fmt.Errorf("watch config: %w", err))
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(cfgFullPath)); err != nil {
		exitErr(fmt.Errorf("watch config dir: %w", err))
	}
	if err := watcher.Add(cfgFullPath); err != nil {
		logger.Debugf("unable to watch config file directly: %v", err)
	}
	reloadRequests := make(chan string, 1)
	go watchConfig(logger, watcher, cfgFullPath, reloadRequests)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	collector := metrics.NewCollector(cfg.Telemetry.Enabled)
	sess := session.New(doc, logger, collector)
	reloader := newConfigReloader(*cfgPath, logger, sess, collector, cfg, raw)
	if err := sess.Start(session.SettingsFromConfig(cfg)); err != nil {
		exitErr(fmt.Errorf("start session: %w", err))
	}

	ctrlSrv, err := control.NewServer(sess, doc, collector, logger, reloader.Reload)
	if err != nil {
		exitErr(fmt.Errorf("start control server: %w", err))
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	errs := make(chan error, 1)
	go func() {
		errs <- ctrlSrv.Serve(ctx)
	}()

	for {
		select {
		case err := <-errs:
			shutdown(logger, sess, doc, *outPath)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Errorf("control server exited: %v", err)
				os.Exit(1)
			}
			logger.Infof("aliaswapd stopped")
			return
		case reason := <-reloadRequests:
			if err := reloader.Reload(reason); err != nil {
				logger.Errorf("reload failed: %v", err)
			}
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				if err := reloader.Reload("received SIGHUP"); err != nil {
					logger.Errorf("reload failed: %v", err)
				}
			case os.Interrupt, syscall.SIGTERM:
				logger.Infof("received %s, shutting down", sig)
				cancel()
			}
		}
	}
}

func loadConfig(path string) (*config.Config, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil, nil
		}
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, raw, nil
}

func loadDocument(path string) (*tree.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return htmldoc.Parse(f)
}

// shutdown saves the rewritten document, then reverts it.
func shutdown(logger *util.Logger, sess *session.Session, doc *tree.Document, outPath string) {
	if outPath != "" {
		if err := writeDocument(outPath, doc, sess.Settings().Marker); err != nil {
			logger.Errorf("write output: %v", err)
		} else {
			logger.Infof("wrote %s", outPath)
		}
	}
	sess.Stop()
}

func writeDocument(path string, doc *tree.Document, marker scan.Marker) error {
	out, err := htmldoc.RenderString(doc, marker)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(out), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func watchConfig(logger *util.Logger, watcher *fsnotify.Watcher, target string, reloadRequests chan<- string) {
	const debounceWindow = 250 * time.Millisecond
	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerCh = timer.C
			} else {
				timer.Reset(debounceWindow)
			}
		case <-timerCh:
			timer = nil
			timerCh = nil
			select {
			case reloadRequests <- "config file updated":
			default:
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("config watcher error: %v", err)
		}
	}
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
