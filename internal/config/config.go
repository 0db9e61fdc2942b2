package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const EnvPrefix = "CAKE"

type Config struct {
	Addr      string
	LogLevel  string
	LogPretty bool
	File      string

	Database string
	Secret   string
	TokenTTL time.Duration

	TMDBKey       string
	TMDBURL       string
	WikidataURL   string
	LookupTimeout time.Duration
	LookupCache   int

	SubscriberBuffer int
	Mailbox          int

	Rate           float64
	Burst          int
	AllowedOrigins []string
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("--addr must not be empty")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrapf(err, "invalid --log-level %q", c.LogLevel)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid --token-ttl (must be positive): %s", c.TokenTTL)
	}
	if c.LookupTimeout <= 0 {
		return fmt.Errorf("invalid --lookup-timeout (must be positive): %s", c.LookupTimeout)
	}
	if c.LookupCache < 1 {
		return fmt.Errorf("invalid --lookup-cache (must be at least 1): %d", c.LookupCache)
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("invalid --subscriber-buffer (must be at least 1): %d", c.SubscriberBuffer)
	}
	if c.Mailbox < 1 {
		return fmt.Errorf("invalid --mailbox (must be at least 1): %d", c.Mailbox)
	}
	if c.Rate <= 0 || c.Burst < 1 {
		return fmt.Errorf("invalid rate limit: %v req/s, burst %d", c.Rate, c.Burst)
	}
	return nil
}

// NewCommand builds the root command. Values come from flags, then CAKE_*
// environment variables, then the optional --config file, then defaults.
func NewCommand(cfg *Config, run func(ctx context.Context, cfg *Config) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "cake-server",
		Short: "Real-time rooms for building a shared collage.",
		Args:  cobra.ExactArgs(0),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := load(v, cmd.Flags(), cfg); err != nil {
				return err
			}
			return cfg.Validate()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.File != "" {
				watch(v)
			}
			return run(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.File, "config", "c", "", "path to a yaml or json config file (env: CAKE_CONFIG)")
	fs.StringVarP(&cfg.Addr, "addr", "a", "0.0.0.0:8080", "api service address (env: CAKE_ADDR)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "trace, debug, info, warn or error (env: CAKE_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogPretty, "log-pretty", false, "human readable console logs (env: CAKE_LOG_PRETTY)")
	fs.StringVar(&cfg.Database, "database", "cake.db", "sqlite journal path, empty disables persistence (env: CAKE_DATABASE)")
	fs.StringVar(&cfg.Secret, "secret", "", "device token signing key (env: CAKE_SECRET)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", 720*time.Hour, "device token lifetime (env: CAKE_TOKEN_TTL)")
	fs.StringVar(&cfg.TMDBKey, "tmdb-key", "", "TMDB api key (env: CAKE_TMDB_KEY)")
	fs.StringVar(&cfg.TMDBURL, "tmdb-url", "https://api.themoviedb.org/3", "TMDB api base url (env: CAKE_TMDB_URL)")
	fs.StringVar(&cfg.WikidataURL, "wikidata-url", "https://query.wikidata.org/sparql", "Wikidata SPARQL endpoint (env: CAKE_WIKIDATA_URL)")
	fs.DurationVar(&cfg.LookupTimeout, "lookup-timeout", 5*time.Second, "timeout of one candidate lookup (env: CAKE_LOOKUP_TIMEOUT)")
	fs.IntVar(&cfg.LookupCache, "lookup-cache", 256, "cached lookup results (env: CAKE_LOOKUP_CACHE)")
	fs.IntVar(&cfg.SubscriberBuffer, "subscriber-buffer", 64, "events buffered per subscriber before it must resync (env: CAKE_SUBSCRIBER_BUFFER)")
	fs.IntVar(&cfg.Mailbox, "mailbox", 32, "queued commands per room (env: CAKE_MAILBOX)")
	fs.Float64Var(&cfg.Rate, "rate", 20, "requests per second per client ip (env: CAKE_RATE)")
	fs.IntVar(&cfg.Burst, "burst", 40, "request burst per client ip (env: CAKE_BURST)")
	fs.StringSliceVar(&cfg.AllowedOrigins, "allowed-origins", []string{"*"}, "CORS and websocket origins (env: CAKE_ALLOWED_ORIGINS)")

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

func load(v *viper.Viper, fs *pflag.FlagSet, cfg *Config) error {
	// Environment first, so CAKE_CONFIG can name the file.
	if err := apply(v, fs); err != nil {
		return err
	}
	if cfg.File == "" {
		return nil
	}

	v.SetConfigFile(cfg.File)
	if err := v.ReadInConfig(); err != nil {
		return errors.Wrapf(err, "read config %s", cfg.File)
	}
	return apply(v, fs)
}

// apply copies values viper knows about into flags the user did not set.
func apply(v *viper.Viper, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if err != nil || f.Changed || !v.IsSet(f.Name) {
			return
		}
		value := v.Get(f.Name)
		if list, ok := value.([]interface{}); ok {
			parts := make([]string, len(list))
			for i, item := range list {
				parts[i] = fmt.Sprint(item)
			}
			value = strings.Join(parts, ",")
		}
		if setErr := fs.Set(f.Name, fmt.Sprintf("%v", value)); setErr != nil {
			err = errors.Wrapf(setErr, "invalid value for %s", f.Name)
		}
	})
	return err
}

// watch reapplies the log level whenever the config file changes. Other keys
// need a restart.
func watch(v *viper.Viper) {
	v.OnConfigChange(func(e fsnotify.Event) {
		level, err := zerolog.ParseLevel(v.GetString("log-level"))
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid log level")
			return
		}
		zerolog.SetGlobalLevel(level)
		log.Info().Str("file", e.Name).Str("level", level.String()).Msg("Config reloaded")
	})
	v.WatchConfig()
}
