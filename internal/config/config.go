// Package config reads the service configuration from command line flags
// and an optional YAML file. Flags given on the command line win over the
// file.
package config

import (
	"flag"
	"io/ioutil"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Broker struct {
	Address        string        `yaml:"address"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	PrivateKey     string        `yaml:"private_key"`
	Algorithm      string        `yaml:"algorithm"`
	Audience       string        `yaml:"audience"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConfirmTimeout time.Duration `yaml:"confirm_timeout"`
	AppName        string        `yaml:"app_name"`
	AutopilotName  string        `yaml:"autopilot_name"`
}

type Config struct {
	HTTPAddress string `yaml:"http_address"`
	StorePath   string `yaml:"store_path"`
	Broker      Broker `yaml:"broker"`
}

func Default() Config {
	return Config{
		HTTPAddress: ":8080",
		StorePath:   "flightplans.json",
		Broker: Broker{
			Address:        "ws://localhost:8000",
			ClientID:       "fastApi",
			Algorithm:      "RS256",
			ConnectTimeout: 10 * time.Second,
			ConfirmTimeout: 2 * time.Second,
			AppName:        "WebApp",
			AutopilotName:  "autopilotService",
		},
	}
}

// Load reads a YAML file on top of the defaults
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return cfg, errors.WithMessage(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WithMessage(err, "failed to unmarshal yaml")
	}
	return cfg, nil
}

// Parse builds the configuration from command line arguments, args[0]
// being the program name
func Parse(args []string) (Config, error) {
	cfg := Default()
	flags := cfg

	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML configuration file")
	fs.StringVar(&flags.HTTPAddress, "http", cfg.HTTPAddress, "HTTP listen address")
	fs.StringVar(&flags.StorePath, "store", cfg.StorePath, "Flight plan store snapshot file, empty for memory only")
	fs.StringVar(&flags.Broker.Address, "mqtt_broker", cfg.Broker.Address, "MQTT broker protocol, address and port")
	fs.StringVar(&flags.Broker.ClientID, "client_id", cfg.Broker.ClientID, "MQTT client id")
	fs.StringVar(&flags.Broker.Username, "username", cfg.Broker.Username, "MQTT username")
	fs.StringVar(&flags.Broker.PrivateKey, "private_key", cfg.Broker.PrivateKey, "Private key for a JWT MQTT password")
	fs.DurationVar(&flags.Broker.ConfirmTimeout, "confirm_timeout", cfg.Broker.ConfirmTimeout, "How long to wait for the autopilot to confirm a connection")

	if err := fs.Parse(args[1:]); err != nil {
		return cfg, err
	}

	if *configPath != "" {
		loaded, err := Load(*configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.HTTPAddress = flags.HTTPAddress
		case "store":
			cfg.StorePath = flags.StorePath
		case "mqtt_broker":
			cfg.Broker.Address = flags.Broker.Address
		case "client_id":
			cfg.Broker.ClientID = flags.Broker.ClientID
		case "username":
			cfg.Broker.Username = flags.Broker.Username
		case "private_key":
			cfg.Broker.PrivateKey = flags.Broker.PrivateKey
		case "confirm_timeout":
			cfg.Broker.ConfirmTimeout = flags.Broker.ConfirmTimeout
		}
	})

	return cfg, nil
}
