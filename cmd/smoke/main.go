package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/aliaswap/aliaswap/internal/config"
	"github.com/aliaswap/aliaswap/internal/htmldoc"
	"github.com/aliaswap/aliaswap/internal/session"
	"github.com/aliaswap/aliaswap/internal/util"
)

var errRoundTrip = errors.New("revert did not restore the original document")

func main() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".config", "aliaswap", "config.yaml")

	cfgPath := flag.String("config", defaultConfig, "path to YAML config")
	docPath := flag.String("document", "", "HTML document to rewrite")
	logLevel := flag.String("log-level", "warn", "log level (trace|debug|info|warn|error)")
	flag.Parse()

	if *docPath == "" {
		exitErr(errors.New("--document is required"))
	}
	logger := util.NewLogger(util.ParseLogLevel(*logLevel))
	if err := run(*cfgPath, *docPath, logger, os.Stdout); err != nil {
		exitErr(err)
	}
}

// run applies the configured session to a document, prints the result and
// checks that stopping the session restores the original markup.
func run(cfgPath, docPath string, logger *util.Logger, out io.Writer) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	f, err := os.Open(docPath)
	if err != nil {
		return fmt.Errorf("open document: %w", err)
	}
	doc, err := htmldoc.Parse(f)
	f.Close()
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Loaded config from %s\n", cfgPath)
	fmt.Fprintln(out, "\n=== Configuration ===")
	if err := marshalYAML(out, cfg); err != nil {
		logger.Warnf("failed to print config: %v", err)
	}
	for _, w := range cfg.Warnings() {
		fmt.Fprintf(out, "warning: %s\n", w.Error())
	}

	settings := session.SettingsFromConfig(cfg)
	settings.Enabled = true
	original, err := htmldoc.RenderString(doc, settings.Marker)
	if err != nil {
		return err
	}

	sess := session.New(doc, logger, nil)
	if err := sess.Start(settings); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	fmt.Fprintln(out, "\n=== Pattern Table ===")
	if err := marshalJSON(out, sess.Status().Patterns); err != nil {
		logger.Warnf("failed to print patterns: %v", err)
	}
	rewritten, err := htmldoc.RenderString(doc, settings.Marker)
	if err != nil {
		sess.Stop()
		return err
	}
	fmt.Fprintln(out, "\n=== Rewritten Document ===")
	fmt.Fprintln(out, rewritten)

	sess.Stop()
	fmt.Fprintln(out, "\n=== Passes ===")
	for _, p := range sess.History() {
		fmt.Fprintf(out, "%s: visited %d, rewritten %d, reverted %d, misses %d, replacements %d\n",
			p.Kind, p.Stats.Visited, p.Stats.Rewritten, p.Stats.Reverted, p.Stats.Misses, p.Stats.Replacements)
	}

	restored, err := htmldoc.RenderString(doc, settings.Marker)
	if err != nil {
		return err
	}
	if restored != original {
		fmt.Fprintln(out, "\n=== Restored Document ===")
		fmt.Fprintln(out, restored)
		return errRoundTrip
	}
	fmt.Fprintln(out, "\nRound trip OK")
	return nil
}

func exitErr(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func marshalYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func marshalJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(data))
	return nil
}
