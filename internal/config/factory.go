package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// FromCobraCmd creates a Config instance from a cobra command object. It exits the process
// if the configuration cannot be loaded.
func FromCobraCmd(cmd *cobra.Command) *Config {
	var flags *pflag.FlagSet
	if cmd.Name() == "stridectl" {
		flags = cmd.PersistentFlags()
	} else {
		flags = cmd.InheritedFlags()
	}

	var conf *Config
	var err error
	if flag := flags.Lookup("config"); flag != nil && flag.Changed {
		conf, err = LoadConfig(flag.Value.String())
	} else {
		conf, err = LoadConfig()
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config file")
	}

	conf.SetupLogging()
	return conf
}
