// Package config loads client settings from an optional YAML file and
// SSHTERM_* environment variables. Flags override everything here; this
// layer only supplies defaults and per-user preferences.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"sshterm/pkg/define"
)

// Settings holds every tunable the client honors. Struct tags are used by
// the viper mapstructure decoder.
type Settings struct {
	Port               uint16        `mapstructure:"port"`
	TermType           string        `mapstructure:"term"`
	ConnectTimeout     time.Duration `mapstructure:"connect_timeout"`
	KeepaliveInterval  time.Duration `mapstructure:"keepalive_interval"`
	AuthRetries        int           `mapstructure:"auth_retries"`
	ShutdownGrace      time.Duration `mapstructure:"shutdown_grace"`
	KnownHostsPath     string        `mapstructure:"known_hosts"`
	IdentityFile       string        `mapstructure:"identity_file"`
	AutoAcceptNewHosts bool          `mapstructure:"auto_accept_new_hosts"`
}

// Load reads settings from path, or from the default config location when
// path is empty. A missing config file is not an error; defaults apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetEnvPrefix(define.DefaultEnvPrefix)
	v.AutomaticEnv()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	v.SetDefault("port", define.DefaultSSHPort)
	v.SetDefault("term", "")
	v.SetDefault("connect_timeout", define.DefaultConnectTimeout)
	v.SetDefault("keepalive_interval", define.DefaultKeepaliveInterval)
	v.SetDefault("auth_retries", define.DefaultAuthRetries)
	v.SetDefault("shutdown_grace", define.DefaultShutdownGrace)
	v.SetDefault("known_hosts", filepath.Join(home, define.DefaultKnownHosts))
	v.SetDefault("identity_file", "")
	v.SetDefault("auto_accept_new_hosts", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strippedConfigName())
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(home, define.DefaultConfigDir))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			logrus.Debugf("no config file found, using defaults")
		} else if path == "" && os.IsNotExist(err) {
			logrus.Debugf("no config file found, using defaults")
		} else {
			return nil, err
		}
	} else {
		logrus.Debugf("loaded config from %s", v.ConfigFileUsed())
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func strippedConfigName() string {
	name := define.DefaultConfigFile
	return name[:len(name)-len(filepath.Ext(name))]
}
