package commands

import (
	"fmt"
	"os"
	"path"
	"strings"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramory-l/wsrooms/frame"
)

var cfgDir string

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "wsrooms",
	Short: "Room multiplexing over a single websocket",
	Long: `wsrooms runs and talks to relays for the wsrooms protocol.

Every connection is a member of the root room and may join any number of
named rooms. Events sent to a room are relayed to its other members.`,
	SilenceErrors:     true,
	SilenceUsage:      true,
	DisableAutoGenTag: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgDir, "config", "", "config directory (default is $HOME/.config/wsrooms)")
	RootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", RootCmd.PersistentFlags().Lookup("log-level"))
	RootCmd.PersistentFlags().String("log-format", "text", "log format (text or json)")
	viper.BindPFlag("log.format", RootCmd.PersistentFlags().Lookup("log-format"))
	RootCmd.PersistentFlags().String("encoding", "latin1", "wire encoding of string fields (latin1 or utf8)")
	viper.BindPFlag("encoding", RootCmd.PersistentFlags().Lookup("encoding"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgDir == "" {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		// Search for config in $HOME/.config/wsrooms
		cfgDir = path.Join(home, ".config", "wsrooms")
	}

	viper.AddConfigPath(cfgDir)
	viper.SetConfigName("wsrooms")

	viper.SetEnvPrefix("wsrooms")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// The config file is optional; flags and environment are enough.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error loading config file: %s\n", err)
			os.Exit(1)
		}
	}
}

// newLogger builds the logger configured by the log.* settings.
func newLogger() (*logrus.Logger, error) {
	log := logrus.New()
	log.Out = os.Stderr

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log.Level = level

	switch format := viper.GetString("log.format"); format {
	case "", "text":
		log.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		log.Formatter = new(logrus.JSONFormatter)
	default:
		return nil, errors.Errorf("unknown log format %q", format)
	}
	return log, nil
}

func encodingSetting() (frame.Encoding, error) {
	name := viper.GetString("encoding")
	enc, ok := frame.ParseEncoding(name)
	if !ok {
		return 0, errors.Errorf("unknown encoding %q", name)
	}
	return enc, nil
}
