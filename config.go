package mon

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/oarkflow/mon/ms"
)

const (
	defaultLog      = "mon.log"
	defaultSleep    = time.Second
	defaultAttempts = 10
	defaultLogSize  = 10
)

// Config is built once at startup and never changed afterwards.
type Config struct {
	Command      string
	Log          string
	Sleep        time.Duration
	PIDFile      string // child pid file
	MonPIDFile   string // supervisor pid file
	Prefix       string
	Daemonize    bool
	Attempts     int // restarts allowed within one 60 second window
	OnRestart    string
	OnError      string
	Watch        []string
	MetricsAddr  string
	LogRotate    bool
	LogMaxSizeMB int

	// Status selects the one-shot status query instead of supervision.
	Status bool
}

func DefaultConfig() Config {
	return Config{
		Log:          defaultLog,
		Sleep:        defaultSleep,
		Attempts:     defaultAttempts,
		LogMaxSizeMB: defaultLogSize,
	}
}

// fileConfig is the on-disk form. Absent keys leave the defaults alone.
type fileConfig struct {
	Command      *string  `yaml:"command" json:"command" toml:"command"`
	Log          *string  `yaml:"log" json:"log" toml:"log"`
	Sleep        *string  `yaml:"sleep" json:"sleep" toml:"sleep"`
	PIDFile      *string  `yaml:"pidfile" json:"pidfile" toml:"pidfile"`
	MonPIDFile   *string  `yaml:"monPidfile" json:"monPidfile" toml:"mon_pidfile"`
	Prefix       *string  `yaml:"prefix" json:"prefix" toml:"prefix"`
	Daemonize    *bool    `yaml:"daemonize" json:"daemonize" toml:"daemonize"`
	Attempts     *int     `yaml:"attempts" json:"attempts" toml:"attempts"`
	OnRestart    *string  `yaml:"onRestart" json:"onRestart" toml:"on_restart"`
	OnError      *string  `yaml:"onError" json:"onError" toml:"on_error"`
	Watch        []string `yaml:"watch" json:"watch" toml:"watch"`
	MetricsAddr  *string  `yaml:"metricsAddr" json:"metricsAddr" toml:"metrics_addr"`
	LogRotate    *bool    `yaml:"logRotate" json:"logRotate" toml:"log_rotate"`
	LogMaxSizeMB *int     `yaml:"logMaxSizeMB" json:"logMaxSizeMB" toml:"log_max_size_mb"`
}

// LoadConfig overlays the file at path onto cfg. The format follows the
// file extension. Sleep is written the short way, e.g. "5s" or "500ms".
func LoadConfig(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf")) // UTF-8 BOM
	var fc fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &fc)
	case ".json":
		err = json.Unmarshal(data, &fc)
	case ".toml":
		_, err = toml.Decode(string(data), &fc)
	default:
		return fmt.Errorf("failed to load config from %s: unsupported format", path)
	}
	if err != nil {
		return fmt.Errorf("failed to load config from %s: %w", path, err)
	}
	return fc.apply(cfg)
}

func (fc *fileConfig) apply(cfg *Config) error {
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&cfg.Command, fc.Command)
	setString(&cfg.Log, fc.Log)
	setString(&cfg.PIDFile, fc.PIDFile)
	setString(&cfg.MonPIDFile, fc.MonPIDFile)
	setString(&cfg.Prefix, fc.Prefix)
	setString(&cfg.OnRestart, fc.OnRestart)
	setString(&cfg.OnError, fc.OnError)
	setString(&cfg.MetricsAddr, fc.MetricsAddr)
	if fc.Sleep != nil {
		n, err := ms.Parse(*fc.Sleep)
		if err != nil {
			return fmt.Errorf("sleep: %w", err)
		}
		cfg.Sleep = time.Duration(n) * time.Millisecond
	}
	if fc.Daemonize != nil {
		cfg.Daemonize = *fc.Daemonize
	}
	if fc.Attempts != nil {
		cfg.Attempts = *fc.Attempts
	}
	if fc.LogRotate != nil {
		cfg.LogRotate = *fc.LogRotate
	}
	if fc.LogMaxSizeMB != nil {
		cfg.LogMaxSizeMB = *fc.LogMaxSizeMB
	}
	if len(fc.Watch) > 0 {
		cfg.Watch = fc.Watch
	}
	return nil
}

type stringList []string

func (l *stringList) String() string { return strings.Join(*l, ",") }

func (l *stringList) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// ParseArgs builds a Config from command line arguments, reading the
// --config file first so that explicit flags win over it.
func ParseArgs(args []string, stderr io.Writer) (Config, error) {
	fs := flag.NewFlagSet("mon", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "Usage: mon [options] <command>")
		fs.PrintDefaults()
	}

	var (
		cfg        = DefaultConfig()
		configPath string
		sleepSec   int
		watch      stringList
	)
	fs.StringVar(&configPath, "config", "", "load options from a yaml, json or toml `file`")
	fs.StringVar(&configPath, "c", "", "shorthand for --config")
	fs.StringVar(&cfg.Log, "log", cfg.Log, "specify logfile `path`")
	fs.StringVar(&cfg.Log, "l", cfg.Log, "shorthand for --log")
	fs.IntVar(&sleepSec, "sleep", int(cfg.Sleep/time.Second), "sleep `seconds` before re-executing")
	fs.IntVar(&sleepSec, "s", int(cfg.Sleep/time.Second), "shorthand for --sleep")
	fs.BoolVar(&cfg.Status, "status", false, "check status of --pidfile")
	fs.BoolVar(&cfg.Status, "S", false, "shorthand for --status")
	fs.StringVar(&cfg.PIDFile, "pidfile", "", "write pid to `path`")
	fs.StringVar(&cfg.PIDFile, "p", "", "shorthand for --pidfile")
	fs.StringVar(&cfg.MonPIDFile, "mon-pidfile", "", "write mon(1) pid to `path`")
	fs.StringVar(&cfg.MonPIDFile, "m", "", "shorthand for --mon-pidfile")
	fs.StringVar(&cfg.Prefix, "prefix", "", "add a log prefix")
	fs.StringVar(&cfg.Prefix, "P", "", "shorthand for --prefix")
	fs.BoolVar(&cfg.Daemonize, "daemonize", false, "daemonize the program")
	fs.BoolVar(&cfg.Daemonize, "d", false, "shorthand for --daemonize")
	fs.IntVar(&cfg.Attempts, "attempts", cfg.Attempts, "retry attempts within 60 seconds")
	fs.IntVar(&cfg.Attempts, "a", cfg.Attempts, "shorthand for --attempts")
	fs.StringVar(&cfg.OnRestart, "on-restart", "", "execute `cmd` on restarts")
	fs.StringVar(&cfg.OnRestart, "R", "", "shorthand for --on-restart")
	fs.StringVar(&cfg.OnError, "on-error", "", "execute `cmd` on error")
	fs.StringVar(&cfg.OnError, "E", "", "shorthand for --on-error")
	fs.Var(&watch, "watch", "restart the command when `path` changes (repeatable)")
	fs.Var(&watch, "w", "shorthand for --watch")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "", "serve /metrics and /healthz on `addr`")
	fs.BoolVar(&cfg.LogRotate, "log-rotate", false, "also write events to a rotated --log file")
	fs.IntVar(&cfg.LogMaxSizeMB, "log-max-size", cfg.LogMaxSizeMB, "rotate the log after `MB` megabytes")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if configPath != "" {
		fileCfg := DefaultConfig()
		if err := LoadConfig(configPath, &fileCfg); err != nil {
			return cfg, err
		}
		cfg = mergeFlags(fileCfg, cfg, set)
	}
	if set["sleep"] || set["s"] {
		cfg.Sleep = time.Duration(sleepSec) * time.Second
	}
	if len(watch) > 0 {
		cfg.Watch = watch
	}

	switch fs.NArg() {
	case 0:
	case 1:
		cfg.Command = fs.Arg(0)
	default:
		return cfg, fmt.Errorf("expected one command, got %d arguments", fs.NArg())
	}
	return cfg, cfg.Validate()
}

// mergeFlags copies the options named in set from flags onto base.
func mergeFlags(base, flags Config, set map[string]bool) Config {
	either := func(long, short string) bool { return set[long] || set[short] }
	if either("log", "l") {
		base.Log = flags.Log
	}
	if either("status", "S") {
		base.Status = flags.Status
	}
	if either("pidfile", "p") {
		base.PIDFile = flags.PIDFile
	}
	if either("mon-pidfile", "m") {
		base.MonPIDFile = flags.MonPIDFile
	}
	if either("prefix", "P") {
		base.Prefix = flags.Prefix
	}
	if either("daemonize", "d") {
		base.Daemonize = flags.Daemonize
	}
	if either("attempts", "a") {
		base.Attempts = flags.Attempts
	}
	if either("on-restart", "R") {
		base.OnRestart = flags.OnRestart
	}
	if either("on-error", "E") {
		base.OnError = flags.OnError
	}
	if set["metrics-addr"] {
		base.MetricsAddr = flags.MetricsAddr
	}
	if set["log-rotate"] {
		base.LogRotate = flags.LogRotate
	}
	if set["log-max-size"] {
		base.LogMaxSizeMB = flags.LogMaxSizeMB
	}
	return base
}

// Validate reports configuration errors that make supervision impossible.
func (c Config) Validate() error {
	if c.Status {
		if c.PIDFile == "" {
			return ErrNoPIDFile
		}
		return nil
	}
	if strings.TrimSpace(c.Command) == "" {
		return ErrNoCommand
	}
	if c.Attempts < 1 {
		return errors.New("--attempts must be at least 1")
	}
	if c.Sleep < 0 {
		return errors.New("--sleep must not be negative")
	}
	return nil
}
