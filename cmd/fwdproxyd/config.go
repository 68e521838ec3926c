package main

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// fileConfig is the parsed form of the config file's line-oriented
// grammar: "KEY value" per line, mirroring
// original_source/src/config.c's init_config (sscanf(line, "%s %s",
// key, value)) rather than a structured format like TOML.
type fileConfig struct {
	Address    string
	Port       int
	MaxClient  int
	LoggerFile string
	RulesFile  string

	SyslogNetwork string
	SyslogAddress string

	ResolverCacheBackend string
	ResolverCacheRedis   string

	UnknownKeys []string
}

func defaultFileConfig() fileConfig {
	return fileConfig{
		Address:    "127.0.0.1",
		Port:       8080,
		MaxClient:  10,
		LoggerFile: "fwdproxy.log",
		RulesFile:  "rules.conf",
	}
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := defaultFileConfig()

	f, err := os.Open(path)
	if err != nil {
		return cfg, errors.Wrap(err, "open config file")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		key, value := fields[0], fields[1]
		switch key {
		case "ADDRESS":
			cfg.Address = value
		case "PORT":
			p, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid PORT %q", value)
			}
			cfg.Port = p
		case "MAX_CLIENT":
			m, err := strconv.Atoi(value)
			if err != nil {
				return cfg, errors.Wrapf(err, "invalid MAX_CLIENT %q", value)
			}
			cfg.MaxClient = m
		case "LOGGER_FILENAME":
			cfg.LoggerFile = value
		case "RULES_FILENAME":
			cfg.RulesFile = value
		case "SYSLOG_NETWORK":
			cfg.SyslogNetwork = value
		case "SYSLOG_ADDRESS":
			cfg.SyslogAddress = value
		case "RESOLVER_CACHE_BACKEND":
			cfg.ResolverCacheBackend = value
		case "RESOLVER_CACHE_REDIS_ADDRESS":
			cfg.ResolverCacheRedis = value
		default:
			cfg.UnknownKeys = append(cfg.UnknownKeys, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return cfg, errors.Wrap(err, "scan config file")
	}
	return cfg, nil
}
