// Package config provides YAML-based configuration loading for troika.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// ConfigError reports contradictory or invalid configuration.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return e.Msg }

// Errorf builds a ConfigError.
func Errorf(format string, args ...any) *ConfigError {
	return &ConfigError{Msg: fmt.Sprintf(format, args...)}
}

// Config is the root application configuration.
type Config struct {
	// Sites maps site names to their configuration.
	Sites map[string]SiteConfig `mapstructure:"sites"`

	// Log holds optional logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// LogConfig defines optional logger settings applied on top of the
// command-line verbosity flags.
type LogConfig struct {
	// Rotation controls rotation of the fixed log file given with -l.
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig controls log file rotation.
type RotationConfig struct {
	Enable     bool `mapstructure:"enable"`
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// SiteConfig describes one configured site instance and its connection.
type SiteConfig struct {
	// Type selects the site variant: direct, pbs, slurm, sge, or group.
	Type string `mapstructure:"type"`
	// Connection selects the transport: local or ssh.
	Connection string `mapstructure:"connection"`

	Host string `mapstructure:"host"`
	User string `mapstructure:"user"`

	// CopyScript transfers the generated script to the output directory
	// before submission instead of piping it.
	CopyScript bool `mapstructure:"copy_script"`
	// CopyJID mirrors the job-id sidecar file next to the job output.
	CopyJID bool `mapstructure:"copy_jid"`
	// UseShell runs the script through a shell; defaults to true on remote
	// connections for the direct site.
	UseShell *bool    `mapstructure:"use_shell"`
	Shell    []string `mapstructure:"shell"`

	// Preprocess is the ordered chain of script preprocessors applied to
	// the raw lines before parsing.
	Preprocess []string `mapstructure:"preprocess"`

	// Translators is the ordered directive translator chain.
	Translators []string `mapstructure:"translators"`

	// DirectivePrefix overrides the site's native directive prefix.
	DirectivePrefix *string `mapstructure:"directive_prefix"`
	// DirectiveTranslate overrides or extends the site's directive table;
	// a null value drops the directive silently.
	DirectiveTranslate map[string]*string `mapstructure:"directive_translate"`
	// ExtraDirectives feeds the extra_directives translator.
	ExtraDirectives map[string]string `mapstructure:"extra_directives"`

	// KillSequence is an ordered list of [delay_seconds, signal] steps;
	// signals are numeric or named.
	KillSequence [][]any `mapstructure:"kill_sequence"`

	// UnknownDirective is fail, warn (default), or ignore.
	UnknownDirective string `mapstructure:"unknown_directive"`
	// DefaultShebang is used when the submitted script has no shebang.
	DefaultShebang string `mapstructure:"default_shebang"`

	// Hook bindings per lifecycle stage.
	AtStartup []string `mapstructure:"at_startup"`
	PreSubmit []string `mapstructure:"pre_submit"`
	PostKill  []string `mapstructure:"post_kill"`
	AtExit    []string `mapstructure:"at_exit"`

	// SSH connection tuning.
	SSHCommand               string   `mapstructure:"ssh_command"`
	SCPCommand               string   `mapstructure:"scp_command"`
	SSHOptions               []string `mapstructure:"ssh_options"`
	SSHVerbose               bool     `mapstructure:"ssh_verbose"`
	SSHStrictHostKeyChecking *bool    `mapstructure:"ssh_strict_host_key_checking"`
	SSHConnectTimeout        int      `mapstructure:"ssh_connect_timeout"`

	// Scheduler command overrides.
	QsubCommand    string `mapstructure:"qsub_command"`
	QdelCommand    string `mapstructure:"qdel_command"`
	QsigCommand    string `mapstructure:"qsig_command"`
	QstatCommand   string `mapstructure:"qstat_command"`
	SbatchCommand  string `mapstructure:"sbatch_command"`
	ScancelCommand string `mapstructure:"scancel_command"`
	SqueueCommand  string `mapstructure:"squeue_command"`

	// Members lists the sub-sites of a group site, in routing order.
	Members []string `mapstructure:"sites"`
}

// Site returns the configuration for the named site.
func (c *Config) Site(name string) (SiteConfig, error) {
	if len(c.Sites) == 0 {
		return SiteConfig{}, Errorf("no 'sites' defined in configuration")
	}
	sc, ok := c.Sites[name]
	if !ok {
		return SiteConfig{}, Errorf("unknown site %q", name)
	}
	return sc, nil
}

// EnvConfigFile names the environment variable holding the default
// configuration path, overridden by the -c flag.
const EnvConfigFile = "TROIKA_CONFIG_FILE"

var configGuesses = []string{
	"troika.yml",
	filepath.Join(os.Getenv("HOME"), ".troika.yml"),
	"/etc/troika.yml",
}

// Load reads the configuration from path. An empty path falls back to the
// TROIKA_CONFIG_FILE environment variable, then to common locations.
// Environment variables with the TROIKA prefix override file values, e.g.
// TROIKA_LOG_ROTATION_ENABLE=true.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path == "" {
		for _, guess := range configGuesses {
			if _, err := os.Stat(guess); err == nil {
				path = guess
				break
			}
		}
	}
	if path == "" {
		return nil, Errorf("no configuration file found")
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TROIKA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("reading %s: %v", path, err)}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, &ConfigError{Msg: fmt.Sprintf("parsing %s: %v", path, err)}
	}
	return &cfg, nil
}
