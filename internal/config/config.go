package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMarkerTag       = "mark"
	DefaultMarkerAttribute = "replaced"
	DefaultHistoryLimit    = 128
)

// Config is the top-level configuration document.
type Config struct {
	Enabled      bool       `yaml:"enabled"`
	Highlight    bool       `yaml:"highlight"`
	Target       Identity   `yaml:"target"`
	Sources      []Identity `yaml:"sources"`
	Marker       Marker     `yaml:"marker"`
	HistoryLimit int        `yaml:"historyLimit"`
	Telemetry    Telemetry  `yaml:"telemetry"`
}

// UnmarshalYAML accepts the legacy settings keys and applies defaults for
// fields whose zero value is not the intended default.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type rawConfig struct {
		Enabled       *bool      `yaml:"enabled"`
		Highlight     bool       `yaml:"highlight"`
		Target        *Identity  `yaml:"target"`
		LegacyTarget  *Identity  `yaml:"character"`
		Sources       []Identity `yaml:"sources"`
		LegacySources []Identity `yaml:"chKeys"`
		StealthMode   bool       `yaml:"stealthMode"`
		Marker        Marker     `yaml:"marker"`
		HistoryLimit  *int       `yaml:"historyLimit"`
		Telemetry     Telemetry  `yaml:"telemetry"`
	}

	var raw rawConfig
	if err := value.Decode(&raw); err != nil {
		return err
	}

	c.Enabled = raw.Enabled == nil || *raw.Enabled
	c.Highlight = raw.Highlight
	c.Marker = raw.Marker
	c.Telemetry = raw.Telemetry

	switch {
	case raw.Target != nil:
		c.Target = *raw.Target
	case raw.LegacyTarget != nil:
		c.Target = *raw.LegacyTarget
	default:
		c.Target = Identity{}
	}

	c.Sources = raw.Sources
	if len(c.Sources) == 0 {
		c.Sources = raw.LegacySources
	}

	if raw.HistoryLimit != nil {
		c.HistoryLimit = *raw.HistoryLimit
	} else {
		c.HistoryLimit = DefaultHistoryLimit
	}
	return nil
}

// Identity is an ordered triple of name fields. Any field may be empty.
type Identity struct {
	Field1 string `yaml:"field1"`
	Field2 string `yaml:"field2"`
	Field3 string `yaml:"field3"`
}

// UnmarshalYAML accepts both fieldN and the legacy CharacterN keys and trims
// surrounding whitespace.
func (id *Identity) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("identity must be a mapping")
	}
	type rawIdentity struct {
		Field1  *string `yaml:"field1"`
		Field2  *string `yaml:"field2"`
		Field3  *string `yaml:"field3"`
		Legacy1 *string `yaml:"Character1"`
		Legacy2 *string `yaml:"Character2"`
		Legacy3 *string `yaml:"Character3"`
	}
	var raw rawIdentity
	if err := value.Decode(&raw); err != nil {
		return err
	}
	id.Field1 = pickField(raw.Field1, raw.Legacy1)
	id.Field2 = pickField(raw.Field2, raw.Legacy2)
	id.Field3 = pickField(raw.Field3, raw.Legacy3)
	return nil
}

func pickField(current, legacy *string) string {
	switch {
	case current != nil:
		return strings.TrimSpace(*current)
	case legacy != nil:
		return strings.TrimSpace(*legacy)
	default:
		return ""
	}
}

// Empty reports whether no field is set.
func (id Identity) Empty() bool {
	return id.Field1 == "" && id.Field2 == "" && id.Field3 == ""
}

// String joins the non-empty fields with a single space.
func (id Identity) String() string {
	parts := make([]string, 0, 3)
	for _, f := range []string{id.Field1, id.Field2, id.Field3} {
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " ")
}

// Marker names the element wrapped around highlighted replacements.
type Marker struct {
	Tag       string `yaml:"tag"`
	Attribute string `yaml:"attribute"`
}

// Telemetry toggles the in-process metrics collector.
type Telemetry struct {
	Enabled bool `yaml:"enabled"`
}

// Parse decodes a configuration payload and applies defaults without validating it.
func Parse(data []byte) (*Config, error) {
	cfg := Config{Enabled: true, HistoryLimit: DefaultHistoryLimit}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default mirrors the settings used when nothing has been configured yet.
func Default() *Config {
	cfg := &Config{Enabled: true, HistoryLimit: DefaultHistoryLimit}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Marker.Tag == "" {
		c.Marker.Tag = DefaultMarkerTag
	}
	if c.Marker.Attribute == "" {
		c.Marker.Attribute = DefaultMarkerAttribute
	}
}

// Validate returns every lint error aggregated into a single error.
func (c *Config) Validate() error {
	var result *multierror.Error
	for _, lintErr := range c.Lint() {
		result = multierror.Append(result, lintErr)
	}
	return result.ErrorOrNil()
}

var (
	tagNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	attrNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_.:-]*$`)
)

// LintError describes a single validation issue.
type LintError struct {
	Path    string
	Message string
}

func (e LintError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return e.Path + ": " + e.Message
}

// Lint reports problems that make the configuration unusable.
func (c *Config) Lint() []LintError {
	var errs []LintError
	if !tagNamePattern.MatchString(c.Marker.Tag) {
		errs = append(errs, LintError{Path: "marker.tag", Message: fmt.Sprintf("%q is not a valid element name", c.Marker.Tag)})
	}
	if !attrNamePattern.MatchString(c.Marker.Attribute) {
		errs = append(errs, LintError{Path: "marker.attribute", Message: fmt.Sprintf("%q is not a valid attribute name", c.Marker.Attribute)})
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, LintError{Path: "historyLimit", Message: fmt.Sprintf("cannot be negative, got %d", c.HistoryLimit)})
	}
	errs = append(errs, lintIdentity("target", c.Target)...)
	for i, src := range c.Sources {
		errs = append(errs, lintIdentity(fmt.Sprintf("sources[%d]", i), src)...)
	}
	return errs
}

func lintIdentity(path string, id Identity) []LintError {
	var errs []LintError
	for i, f := range []string{id.Field1, id.Field2, id.Field3} {
		if strings.ContainsAny(f, "\r\n") {
			errs = append(errs, LintError{Path: fmt.Sprintf("%s.field%d", path, i+1), Message: "cannot contain line breaks"})
		}
	}
	return errs
}

// Warnings reports tolerated problems. They never block a load or reload
// since a malformed identity only produces fewer substitutions.
func (c *Config) Warnings() []LintError {
	var warns []LintError
	if c.Target.Empty() {
		warns = append(warns, LintError{Path: "target", Message: "no fields set; nothing will be substituted"})
	}
	if len(c.Sources) == 0 {
		warns = append(warns, LintError{Path: "sources", Message: "no source identities configured"})
	}
	for i, src := range c.Sources {
		path := fmt.Sprintf("sources[%d]", i)
		if src.Empty() {
			warns = append(warns, LintError{Path: path, Message: "no fields set; entry ignored"})
			continue
		}
		if src == c.Target {
			warns = append(warns, LintError{Path: path, Message: "identical to target"})
		}
	}
	return warns
}

// LintFile parses the file and returns its lint errors and warnings.
func LintFile(path string) (errs, warnings []LintError, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, nil, err
	}
	return cfg.Lint(), cfg.Warnings(), nil
}
