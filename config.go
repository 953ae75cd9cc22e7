/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultAuthority = "https://ultimate-tic-tac-toe-chi.vercel.app"

type Config struct {
	authority      string
	bind           string
	forgetIdentity bool
	identityFile   string
	metrics        bool
	port           int
	prefix         string
	profile        bool
	requestTimeout time.Duration
	tlsCert        string
	tlsKey         string
	verbose        bool
	version        bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.requestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout (must be positive): %s", c.requestTimeout)
	}
	if c.identityFile == "" {
		return errors.New("cannot locate identity storage; pass --identity-file")
	}

	u, err := url.Parse(c.authority)
	if err != nil {
		return fmt.Errorf("invalid authority url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid authority url (must be absolute http or https): %q", c.authority)
	}

	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("ULTIMATE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "ultimate",
		Short:         "Play Super Tic-Tac-Toe in the browser against a remote game server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.authority, "authority", "a", defaultAuthority, "base url of the game server (env: ULTIMATE_AUTHORITY)")
	fs.StringVarP(&cfg.bind, "bind", "b", "127.0.0.1", "address to bind to (env: ULTIMATE_BIND)")
	fs.BoolVar(&cfg.forgetIdentity, "forget-identity", false, "discard the stored player id and generate a new one (env: ULTIMATE_FORGET_IDENTITY)")
	fs.StringVar(&cfg.identityFile, "identity-file", defaultIdentityPath(), "file holding the player id for this device (env: ULTIMATE_IDENTITY_FILE)")
	fs.BoolVar(&cfg.metrics, "metrics", false, "expose prometheus metrics at /metrics (env: ULTIMATE_METRICS)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: ULTIMATE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: ULTIMATE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: ULTIMATE_PROFILE)")
	fs.DurationVar(&cfg.requestTimeout, "request-timeout", 10*time.Second, "time to wait for the game server before giving up (env: ULTIMATE_REQUEST_TIMEOUT)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: ULTIMATE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: ULTIMATE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: ULTIMATE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: ULTIMATE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("ultimate v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
