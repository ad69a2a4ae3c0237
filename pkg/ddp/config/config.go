// Package config loads the HCL configuration of the ddp server command.
//
//	listen        = ":3000"
//	path          = "/websocket"
//	log_level     = "info"
//	write_timeout = "10s"
//	ping_interval = 30
//
//	metrics {
//	  provider = "prometheus"
//	  path     = "/metrics"
//	}
//
//	clock "time" {
//	  schedule = "@every 1s"
//	  timezone = "UTC"
//	}
//
//	publication "names" {
//	  documents = {
//	    "1" = { name = "Ada" }
//	  }
//	}
//
// Expressions can reference environment variables as env.NAME and call the
// functions listed in Functions.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/robfig/cron/v3"
	"github.com/tsarna/go2cty2go"
	"github.com/zclconf/go-cty/cty"
)

const (
	DefaultListen        = ":3000"
	DefaultPath          = "/websocket"
	DefaultLogLevel      = "info"
	DefaultMetricsPath   = "/metrics"
	DefaultClockSchedule = "@every 1s"
)

// Metrics providers accepted in the metrics block.
const (
	MetricsNone       = "none"
	MetricsPrometheus = "prometheus"
	MetricsOtel       = "otel"
)

// Config is the decoded server configuration. A negative PingInterval keeps
// the listener default; zero disables pings.
type Config struct {
	Listen         string
	Path           string
	LogLevel       string
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	OriginPatterns []string

	Metrics      MetricsConfig
	Clocks       []ClockConfig
	Publications []PublicationConfig
}

type MetricsConfig struct {
	Provider  string
	Path      string
	Namespace string
}

// ClockConfig defines a publication that republishes the current time on a
// cron schedule.
type ClockConfig struct {
	Name       string
	Collection string
	Schedule   string
	Location   *time.Location
}

// ScheduleParser parses clock schedules: five or six fields (seconds are
// optional) or a descriptor such as "@every 1s".
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// PublicationConfig defines a publication serving a fixed set of documents.
type PublicationConfig struct {
	Name       string
	Collection string
	Documents  map[string]map[string]any
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Listen:   DefaultListen,
		Path:     DefaultPath,
		LogLevel: DefaultLogLevel,
		// Negative until ping_interval is set.
		PingInterval: -1,
		Metrics: MetricsConfig{
			Provider: MetricsNone,
			Path:     DefaultMetricsPath,
		},
	}
}

type fileDefinition struct {
	Listen         string                  `hcl:"listen,optional"`
	Path           string                  `hcl:"path,optional"`
	LogLevel       string                  `hcl:"log_level,optional"`
	WriteTimeout   hcl.Expression          `hcl:"write_timeout,optional"`
	PingInterval   hcl.Expression          `hcl:"ping_interval,optional"`
	ReadLimit      int64                   `hcl:"read_limit,optional"`
	OriginPatterns []string                `hcl:"origin_patterns,optional"`
	Metrics        *metricsDefinition      `hcl:"metrics,block"`
	Clocks         []clockDefinition       `hcl:"clock,block"`
	Publications   []publicationDefinition `hcl:"publication,block"`
}

type metricsDefinition struct {
	Provider  string    `hcl:"provider,optional"`
	Path      string    `hcl:"path,optional"`
	Namespace string    `hcl:"namespace,optional"`
	DefRange  hcl.Range `hcl:",def_range"`
}

type clockDefinition struct {
	Name       string    `hcl:"name,label"`
	Collection string    `hcl:"collection,optional"`
	Schedule   string    `hcl:"schedule,optional"`
	Timezone   string    `hcl:"timezone,optional"`
	DefRange   hcl.Range `hcl:",def_range"`
}

type publicationDefinition struct {
	Name       string         `hcl:"name,label"`
	Collection string         `hcl:"collection,optional"`
	Documents  hcl.Expression `hcl:"documents,optional"`
	DefRange   hcl.Range      `hcl:",def_range"`
}

// LoadFile reads and decodes a configuration file.
func LoadFile(filename string) (*Config, hcl.Diagnostics) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, hcl.Diagnostics{
			&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Failed to read configuration",
				Detail:   fmt.Sprintf("Error reading %s: %s", filename, err),
			},
		}
	}
	return Load(src, filename)
}

// Load decodes configuration source. filename is used in diagnostics only.
func Load(src []byte, filename string) (*Config, hcl.Diagnostics) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, diags
	}

	evalCtx := NewEvalContext()

	var def fileDefinition
	diags = diags.Extend(gohcl.DecodeBody(file.Body, evalCtx, &def))
	if diags.HasErrors() {
		return nil, diags
	}

	cfg := Default()
	if def.Listen != "" {
		cfg.Listen = def.Listen
	}
	if def.Path != "" {
		cfg.Path = def.Path
	}
	if def.LogLevel != "" {
		cfg.LogLevel = def.LogLevel
	}
	cfg.ReadLimit = def.ReadLimit
	cfg.OriginPatterns = def.OriginPatterns

	if IsExpressionProvided(def.WriteTimeout) {
		timeout, durationDiags := ParseDuration(evalCtx, def.WriteTimeout)
		diags = diags.Extend(durationDiags)
		cfg.WriteTimeout = timeout
	}
	if IsExpressionProvided(def.PingInterval) {
		interval, durationDiags := ParseDuration(evalCtx, def.PingInterval)
		diags = diags.Extend(durationDiags)
		cfg.PingInterval = interval
	}

	if def.Metrics != nil {
		diags = diags.Extend(decodeMetrics(cfg, def.Metrics))
	}

	names := make(map[string]hcl.Range)
	for _, clock := range def.Clocks {
		diags = diags.Extend(checkUniqueName(names, clock.Name, clock.DefRange))
		diags = diags.Extend(decodeClock(cfg, clock))
	}
	for _, pub := range def.Publications {
		diags = diags.Extend(checkUniqueName(names, pub.Name, pub.DefRange))
		diags = diags.Extend(decodePublication(cfg, evalCtx, pub))
	}

	if diags.HasErrors() {
		return nil, diags
	}
	return cfg, diags
}

func decodeMetrics(cfg *Config, def *metricsDefinition) hcl.Diagnostics {
	if def.Provider != "" {
		cfg.Metrics.Provider = def.Provider
	} else {
		cfg.Metrics.Provider = MetricsPrometheus
	}
	if def.Path != "" {
		cfg.Metrics.Path = def.Path
	}
	cfg.Metrics.Namespace = def.Namespace

	switch cfg.Metrics.Provider {
	case MetricsNone, MetricsPrometheus, MetricsOtel:
		return nil
	default:
		return hcl.Diagnostics{
			&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid metrics provider",
				Detail:   fmt.Sprintf("Invalid metrics provider %q; expected %q, %q or %q", cfg.Metrics.Provider, MetricsPrometheus, MetricsOtel, MetricsNone),
				Subject:  def.DefRange.Ptr(),
			},
		}
	}
}

func decodeClock(cfg *Config, def clockDefinition) hcl.Diagnostics {
	clock := ClockConfig{
		Name:       def.Name,
		Collection: def.Collection,
		Schedule:   def.Schedule,
	}
	if clock.Collection == "" {
		clock.Collection = clock.Name
	}
	if clock.Schedule == "" {
		clock.Schedule = DefaultClockSchedule
	}

	var diags hcl.Diagnostics
	if _, err := ScheduleParser.Parse(clock.Schedule); err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid schedule",
			Detail:   fmt.Sprintf("Invalid schedule %q for clock %q: %s", clock.Schedule, clock.Name, err),
			Subject:  def.DefRange.Ptr(),
		})
	}

	timezone := def.Timezone
	if timezone == "" {
		timezone = "Local"
	}
	location, err := time.LoadLocation(timezone)
	if err != nil {
		diags = diags.Append(&hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Invalid timezone",
			Detail:   fmt.Sprintf("Invalid timezone: %s", timezone),
			Subject:  def.DefRange.Ptr(),
		})
	}
	clock.Location = location

	if diags.HasErrors() {
		return diags
	}
	cfg.Clocks = append(cfg.Clocks, clock)
	return nil
}

func decodePublication(cfg *Config, evalCtx *hcl.EvalContext, def publicationDefinition) hcl.Diagnostics {
	pub := PublicationConfig{
		Name:       def.Name,
		Collection: def.Collection,
		Documents:  make(map[string]map[string]any),
	}
	if pub.Collection == "" {
		pub.Collection = pub.Name
	}

	if IsExpressionProvided(def.Documents) {
		val, diags := def.Documents.Value(evalCtx)
		if diags.HasErrors() {
			return diags
		}

		docs, err := documentsFromValue(val)
		if err != nil {
			return diags.Append(&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Invalid documents",
				Detail:   fmt.Sprintf("Publication %q: %s", pub.Name, err),
				Subject:  def.Documents.Range().Ptr(),
			})
		}
		pub.Documents = docs
	}

	cfg.Publications = append(cfg.Publications, pub)
	return nil
}

// documentsFromValue converts an object of objects into documents keyed by id.
func documentsFromValue(val cty.Value) (map[string]map[string]any, error) {
	if val.IsNull() {
		return map[string]map[string]any{}, nil
	}

	converted, err := go2cty2go.CtyToAny(val)
	if err != nil {
		return nil, err
	}

	byID, ok := converted.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("documents must be an object keyed by document id, got %T", converted)
	}

	docs := make(map[string]map[string]any, len(byID))
	for id, raw := range byID {
		doc, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("document %q must be an object, got %T", id, raw)
		}
		docs[id] = doc
	}
	return docs, nil
}

func checkUniqueName(seen map[string]hcl.Range, name string, rng hcl.Range) hcl.Diagnostics {
	if previous, ok := seen[name]; ok {
		return hcl.Diagnostics{
			&hcl.Diagnostic{
				Severity: hcl.DiagError,
				Summary:  "Duplicate publication",
				Detail:   fmt.Sprintf("Publication %q is already defined at %s", name, previous),
				Subject:  rng.Ptr(),
			},
		}
	}
	seen[name] = rng
	return nil
}
