package util

import (
	"crypto/rand"
	"fmt"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const ENV_PREFIX = "LZ"

var Config = viper.New()

var config_listeners []func()

func RegisterNewConfigListener(new_listener func()) {
	for _, listener := range config_listeners {
		if reflect.ValueOf(new_listener).Pointer() == reflect.ValueOf(listener).Pointer() {
			Logger.Warn().Msg("config listener already registered")
			return
		}
	}
	config_listeners = append(config_listeners, new_listener)
}

func OnNewConfig() {
	for _, listener := range config_listeners {
		listener()
	}
}

func GetRandString(n int) string {
	// using crypto/rand for better security
	const letterBytes = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	b := make([]byte, n)
	for i := range b {
		randBytes := make([]byte, 1)
		if _, err := rand.Read(randBytes); err != nil {
			// fallback to a simple approach if crypto/rand fails
			b[i] = letterBytes[i%len(letterBytes)]
		} else {
			b[i] = letterBytes[int(randBytes[0])%len(letterBytes)]
		}
	}
	return string(b)
}

func setDefaults() {
	Config.SetDefault("Broker_URI", "tcp://mqtt")
	Config.SetDefault("Cleansess", false)
	Config.SetDefault("Id_base", "lighting_zone")
	Config.SetDefault("Username", "")
	Config.SetDefault("Password", "")
	Config.SetDefault("Log_level", "info")
	Config.SetDefault("Log_max_size_mb", 10)
	Config.SetDefault("Log_max_backups", 3)
	Config.SetDefault("Log_max_age_days", 28)
	Config.SetDefault("Details_port", 8080)

	Config.SetDefault("Discovery_prefix", "homeassistant")
	Config.SetDefault("Topic_prefix", "lighting_zone")
	Config.SetDefault("Statestream_base", "homeassistant")
	Config.SetDefault("State_format", "plain")
	Config.SetDefault("State_path", "state")
	Config.SetDefault("State_ttl", 0)

	Config.SetDefault("Hass_url", "http://homeassistant:8123")
	Config.SetDefault("Hass_token", "")
	Config.SetDefault("Hass_timeout", 10)

	Config.SetDefault("Dispatch.mode", "hass")
	Config.SetDefault("Dispatch.command_topic_template", "zigbee2mqtt/{{.ObjectID}}/set")

	Config.SetDefault("State_poller.enabled", false)
	Config.SetDefault("State_poller.frequency", 60)
	Config.SetDefault("State_poller.workers", 2)
}

// SetupConfig loads the config file (or configFile when given), the environment
// and the command line, then watches the file for changes.
func SetupConfig(args []string) {
	Config.SetEnvPrefix(ENV_PREFIX)
	Config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults()

	// flags
	flags := pflag.NewFlagSet("lighting_zone", pflag.ContinueOnError)
	configFile := flags.StringP("config", "c", "", "path to config file")
	flags.String("log_level", "", "log level (trace, debug, info, warn, error)")
	flags.Int("details_port", 0, "monitor http port")
	if err := flags.Parse(args); err != nil {
		Logger.Error().Err(err).Msg("unable to parse flags")
	}
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name != "config" && f.Changed {
			if err := Config.BindPFlag(f.Name, f); err != nil {
				Logger.Error().Err(err).Msgf("unable to bind flag %s", f.Name)
			}
		}
	})

	// config file
	if *configFile != "" {
		Config.SetConfigFile(*configFile)
	} else {
		Config.SetConfigName("lighting_zone")
		Config.AddConfigPath("/")
		Config.AddConfigPath("./")
		Config.AddConfigPath("./config")
		Config.AddConfigPath("/etc")
		Config.AddConfigPath("/lighting_zone")
		Config.AddConfigPath("/lighting_zone/config")
	}

	err := Config.ReadInConfig()
	if err != nil {
		Logger.Error().Msgf("unable to read config file: %v", fmt.Errorf("%v", err))
	}

	// environment variables
	Config.AutomaticEnv()

	// watch for changes
	Config.WatchConfig()
	Config.OnConfigChange(func(e fsnotify.Event) {
		Logger.Info().Msgf("Config file changed: %v", e.Name)
		Logger.Debug().Msgf("Config Additional Info: %v", e.String())
		OnNewConfig()
	})

}
