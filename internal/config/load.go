package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"

	"github.com/spf13/viper"
)

var cfg Config
var home = os.Getenv("HOME")

func getViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName("overlay_config")
	v.SetConfigType("json")
	v.AddConfigPath(".")              // config file reading order starts with current working directory
	v.AddConfigPath("$HOME/.overlay") // then home directory
	v.AddConfigPath("/etc/overlay/")  // finally /etc/overlay
	return v
}

func setDefaultConfig() *viper.Viper {
	v := getViper()
	v.SetDefault("general.data_dir", home+"/.overlay")
	v.SetDefault("general.debug", false)
	v.SetDefault("rest.port", 9999)
	v.SetDefault("overlay.bootstrap_peer", "")
	v.SetDefault("job.stabilize_interval_seconds", 5)
	v.SetDefault("job.fix_fingers_interval_seconds", 5)
	v.SetDefault("job.discovery_interval_seconds", 3)
	v.SetDefault("job.advertise_interval_seconds", 60)
	v.SetDefault("job.resource_sample_interval_seconds", 60)
	v.SetDefault("job.accounting_log_path", "task_accounting.log")
	v.SetDefault("storage.s3_region", "")
	return v
}

func LoadConfig() {
	paths := []string{
		".",
		home + "/.overlay",
		"/etc/overlay",
	}
	configFile := "overlay_config.json"
	v := setDefaultConfig()

	config, err := findConfig(paths, configFile)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	modifiedConfig := removeComments(config)
	if err = v.ReadConfig(bytes.NewBuffer(modifiedConfig)); err != nil { // viper only reads buffer, keeping comments in original config
		setDefaultConfig().Unmarshal(&cfg)
		return
	}

	if err = v.Unmarshal(&cfg); err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func SetConfig(key string, value interface{}) {
	v := getViper()
	v.Set(key, value)
	err := v.Unmarshal(&cfg)
	if err != nil {
		setDefaultConfig().Unmarshal(&cfg)
	}
}

func GetConfig() *Config {
	if reflect.DeepEqual(cfg, Config{}) {
		LoadConfig()
	}
	return &cfg
}

func findConfig(paths []string, filename string) ([]byte, error) {
	for _, path := range paths {
		fullPath := filepath.Join(path, filename)
		_, err := os.Stat(fullPath)
		if err == nil {
			config, err := os.ReadFile(fullPath)
			if err == nil {
				return config, nil
			}
			return nil, err
		}
	}

	return nil, fmt.Errorf("file not found in any of the paths")
}

func removeComments(configBytes []byte) []byte {
	re := regexp.MustCompile("(?s)//.*?\n") // match all '//' until the end of the line
	result := re.ReplaceAll(configBytes, nil)
	return result
}
