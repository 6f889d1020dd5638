package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
)

const Name = "waxwing"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host             string
		HttpPort         int    `yaml:"httpPort"`
		SslDomain        string `yaml:"sslDomain"`
		WithAp           bool   `yaml:"withAp"`
		Closed           bool   `yaml:"closed"`
		SchedulerSeconds int    `yaml:"schedulerSeconds"`
		SchedulerWorkers int    `yaml:"schedulerWorkers"`
		DeliverySeconds  int    `yaml:"deliverySeconds"`
	}
}

func ReadConf() (*AppConfig, error) {

	c := &AppConfig{}

	// Try to resolve config file path (local first, then user dir)
	configPath := ResolveFilePath(ConfigFileName)

	var buf []byte
	var err error

	// Try to read from resolved path
	buf, err = os.ReadFile(configPath)
	if err != nil {
		// If file doesn't exist, use embedded config and create user config file
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		// Try to write default config to user config directory
		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644)
			if writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	err = yaml.Unmarshal(buf, c)
	if err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	envHost := os.Getenv("WAXWING_HOST")
	envHttpPort := os.Getenv("WAXWING_HTTPPORT")
	envSslDomain := os.Getenv("WAXWING_SSLDOMAIN")
	envWithAp := os.Getenv("WAXWING_WITH_AP")
	envClosed := os.Getenv("WAXWING_CLOSED")
	envSchedulerSeconds := os.Getenv("WAXWING_SCHEDULER_SECONDS")
	envSchedulerWorkers := os.Getenv("WAXWING_SCHEDULER_WORKERS")
	envDeliverySeconds := os.Getenv("WAXWING_DELIVERY_SECONDS")

	if envHost != "" {
		c.Conf.Host = envHost
	}

	if envHttpPort != "" {
		v, err := strconv.Atoi(envHttpPort)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.HttpPort = v
	}

	if envSslDomain != "" {
		c.Conf.SslDomain = envSslDomain
	}

	if envWithAp == "true" {
		c.Conf.WithAp = true
	}

	if envClosed == "true" {
		c.Conf.Closed = true
	}

	if envSchedulerSeconds != "" {
		v, err := strconv.Atoi(envSchedulerSeconds)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.SchedulerSeconds = v
	}

	if envSchedulerWorkers != "" {
		v, err := strconv.Atoi(envSchedulerWorkers)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.SchedulerWorkers = v
	}

	if envDeliverySeconds != "" {
		v, err := strconv.Atoi(envDeliverySeconds)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliverySeconds = v
	}

	if c.Conf.SchedulerSeconds <= 0 {
		c.Conf.SchedulerSeconds = 30
	}
	if c.Conf.SchedulerWorkers <= 0 {
		c.Conf.SchedulerWorkers = 4
	}
	if c.Conf.DeliverySeconds <= 0 {
		c.Conf.DeliverySeconds = 10
	}

	return c, nil
}
