package util

import (
	_ "embed"
	"fmt"
	"gopkg.in/yaml.v3"
	"log"
	"os"
	"strconv"
	"strings"
)

const Name = "solopub"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host            string
		HttpPort        int    `yaml:"httpPort"`
		SslDomain       string `yaml:"sslDomain"`
		Username        string `yaml:"username"`
		DisplayName     string `yaml:"displayName"`
		Summary         string `yaml:"summary"`
		Secret          string `yaml:"secret"`
		PrivateKeyPem   string `yaml:"privateKeyPem"`
		PublicKeyPem    string `yaml:"publicKeyPem"`
		ManualApproval  bool   `yaml:"manualApproval"`
		DeliveryWorkers int    `yaml:"deliveryWorkers"`
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

	applyEnvOverrides(c)

	if c.Conf.Username == "" {
		return nil, fmt.Errorf("no username configured, set SOLOPUB_USERNAME or username in %s", ConfigFileName)
	}

	if c.Conf.DeliveryWorkers <= 0 {
		c.Conf.DeliveryWorkers = 4
	}

	return c, nil
}

func applyEnvOverrides(c *AppConfig) {
	envHost := os.Getenv("SOLOPUB_HOST")
	envHttpPort := os.Getenv("SOLOPUB_HTTPPORT")
	envSslDomain := os.Getenv("SOLOPUB_SSLDOMAIN")
	envUsername := os.Getenv("SOLOPUB_USERNAME")
	envDisplayName := os.Getenv("SOLOPUB_DISPLAYNAME")
	envSummary := os.Getenv("SOLOPUB_SUMMARY")
	envSecret := os.Getenv("SOLOPUB_SECRET")
	envPrivateKey := os.Getenv("SOLOPUB_PRIVATE_KEY")
	envPublicKey := os.Getenv("SOLOPUB_PUBLIC_KEY")
	envManual := os.Getenv("SOLOPUB_MANUAL_APPROVAL")
	envWorkers := os.Getenv("SOLOPUB_DELIVERY_WORKERS")

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

	if envUsername != "" {
		c.Conf.Username = envUsername
	}

	if envDisplayName != "" {
		c.Conf.DisplayName = envDisplayName
	}

	if envSummary != "" {
		c.Conf.Summary = envSummary
	}

	if envSecret != "" {
		c.Conf.Secret = envSecret
	}

	// PEM material passed through the environment carries literal "\n" sequences
	if envPrivateKey != "" {
		c.Conf.PrivateKeyPem = strings.ReplaceAll(envPrivateKey, `\n`, "\n")
	}

	if envPublicKey != "" {
		c.Conf.PublicKeyPem = strings.ReplaceAll(envPublicKey, `\n`, "\n")
	}

	if envManual == "true" {
		c.Conf.ManualApproval = true
	}

	if envWorkers != "" {
		v, err := strconv.Atoi(envWorkers)
		if err != nil {
			fmt.Println(err)
		}
		c.Conf.DeliveryWorkers = v
	}
}
