package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/sethvargo/go-envconfig"
	log "github.com/sirupsen/logrus"
)

type (
	Config struct {
		Debug           bool     `env:"DEBUG,default=false"`
		LogLevel        int      `env:"LOG_LEVEL,default=4"`
		DotPath         string   `env:"DOT_PATH,default=~/.doorbot"`
		EnabledHandlers []string `env:"HANDLERS,default=admission"`
		MetricsAddr     string   `env:"METRICS_ADDR,default=:2112"`
		Telegram        Telegram
		Redis           Redis
		AI              AI
		Advertising     Advertising
	}

	Telegram struct {
		Token   string `env:"TOKEN,required"`
		AdminID int64  `env:"ADMIN_ID"`
	}

	Redis struct {
		DSN string `env:"REDIS_DSN,default=redis://localhost:6379/0"`
	}

	AI struct {
		ProxyHost  string   `env:"AI_PROXY_HOST"`
		ProxyToken string   `env:"AI_PROXY_TOKEN"`
		Models     []string `env:"AI_MODELS,default=gpt-4o-mini,gpt-4o,gpt-3.5-turbo"`
	}

	Advertising struct {
		Enabled bool     `env:"AD_ENABLED,default=true"`
		Words   []string `env:"AD_WORDS"`
		// Semicolon-delimited list of name:pattern entries.
		RegexPatterns string `env:"AD_REGEX_PATTERNS"`
	}

	NamedPattern struct {
		Name    string
		Pattern *regexp.Regexp
	}
)

var (
	once         sync.Once
	globalConfig = &Config{}
	globalErr    error
)

func Load() (Config, error) {
	once.Do(func() {
		cfg := &Config{}
		envcfg := envconfig.Config{
			Lookuper: envconfig.PrefixLookuper("DOORBOT_", envconfig.OsLookuper()),
			Target:   cfg,
		}
		if err := envconfig.ProcessWith(context.Background(), &envcfg); err != nil {
			globalErr = fmt.Errorf("process env config: %w", err)
			return
		}
		home, err := os.UserHomeDir()
		if err != nil {
			globalErr = fmt.Errorf("get user home directory: %w", err)
			return
		}
		cfg.DotPath = strings.Replace(cfg.DotPath, "~", home, 1)
		log.Traceln("loaded config")
		globalConfig = cfg
	})
	return *globalConfig, globalErr
}

func Get() Config {
	cfg, err := Load()
	if err != nil {
		log.WithField("error", err.Error()).Error("cant load config")
	}
	return cfg
}

// CompiledPatterns parses the semicolon-delimited name:pattern list. Entries
// that fail to compile are logged and skipped, the rest still apply.
func (a Advertising) CompiledPatterns() []NamedPattern {
	raw := strings.TrimSpace(a.RegexPatterns)
	if raw == "" {
		return nil
	}
	var patterns []NamedPattern
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, expr, found := strings.Cut(entry, ":")
		if !found || name == "" || expr == "" {
			log.WithField("entry", entry).Warn("malformed advertising pattern entry")
			continue
		}
		re, err := regexp.Compile("(?i)" + expr)
		if err != nil {
			log.WithFields(log.Fields{"name": name, "error": err.Error()}).Warn("cant compile advertising pattern")
			continue
		}
		patterns = append(patterns, NamedPattern{Name: name, Pattern: re})
	}
	return patterns
}
