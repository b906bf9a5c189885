// Package cli provides the syslogcored command-line entry point: the
// cobra/viper bootstrap that wires configured queues, actions, a ruleset,
// and worker pools into a running daemon, plus the optional read-only HTTP
// admin surface (spec.md §6.E). It is the one place in this module that
// imports viper — every package below it takes plain Go config structs.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/syslogcore/engine/api"
	"github.com/syslogcore/engine/config"
	"github.com/syslogcore/engine/corelog"
)

// cfgFile holds the path to the configuration file specified via the
// --config flag. When empty, initConfig searches $HOME and the working
// directory for ".syslogcored.yaml".
var cfgFile string

// RootCmd is the syslogcored entry point: it loads configuration, builds
// the daemon, runs it until an interrupt or term signal arrives, and shuts
// it down gracefully.
var RootCmd = &cobra.Command{
	Use:   "syslogcored",
	Short: "a syslog/event router core engine daemon",
	Long: `syslogcored

Routes structured log records through a ruleset to one or more output
actions, each backed by its own water-marked queue and elastic worker
pool. Configuration is provided via a YAML file, environment variables,
or command-line flags, with flags taking precedence.`,
	RunE: runDaemon,
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.syslogcored.yaml)")
	RootCmd.PersistentFlags().String("http-addr", "", "admin surface listen address, e.g. :8080 (empty disables it)")
	RootCmd.PersistentFlags().String("jwt-secret", "", "signing key for the admin surface; empty disables auth")
	RootCmd.PersistentFlags().String("log-level", "", "debug, info, warn, error, or fatal")
	RootCmd.PersistentFlags().String("log-format", "", "text or json")

	viper.BindPFlag("http.addr", RootCmd.PersistentFlags().Lookup("http-addr"))
	viper.BindPFlag("jwt.secret", RootCmd.PersistentFlags().Lookup("jwt-secret"))
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log.format", RootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig sets up Viper's config file search path and environment
// variable mapping. Called automatically by cobra before command execution.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".syslogcored")
	}

	viper.SetEnvPrefix("SYSLOGCORED")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("using config file:", viper.ConfigFileUsed())
	}
}

// runDaemon builds the daemon from the loaded configuration, starts it, and
// blocks until SIGINT/SIGTERM, then shuts down every component in turn.
func runDaemon(cmd *cobra.Command, args []string) error {
	logCfg := corelog.DefaultConfig()
	if v := viper.GetString("log.level"); v != "" {
		logCfg.Level = corelog.Level(v)
	}
	if v := viper.GetString("log.format"); v != "" {
		logCfg.Format = v
	}
	log := logrus.NewEntry(corelog.New(logCfg))

	d, err := NewDaemon(LoadDaemonSettings(), log)
	if err != nil {
		return fmt.Errorf("syslogcored: build daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	var srv *echo.Echo
	if addr := viper.GetString("http.addr"); addr != "" {
		secret := viper.GetString("jwt.secret")
		srv = echo.New()
		srv.Use(middleware.Recover())
		api.SetupRoutes(srv, d.Handlers(), []byte(secret))
		go func() {
			log.WithFields(logrus.Fields{
				"addr":       addr,
				"jwt_secret": config.MaskSecret(secret),
			}).Info("admin surface listening")
			if err := srv.Start(addr); err != nil {
				log.WithError(err).Warn("admin surface stopped")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}
	return d.Shutdown(shutdownCtx)
}
