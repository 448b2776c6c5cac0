package app

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Spinnernicholas/cocoa-canvas/internal/pkg/logger"
	"github.com/Spinnernicholas/cocoa-canvas/internal/utils"
)

// Config is process-level configuration. Values come from a YAML file when
// CONFIG_FILE is set, with env vars overriding file values either way.
type Config struct {
	Port         string   `yaml:"port"`
	UploadDir    string   `yaml:"upload_dir"`
	AllowOrigins []string `yaml:"allow_origins"`
}

func LoadConfig(log *logger.Logger) Config {
	cfg := Config{
		Port:      "8080",
		UploadDir: "./tmp/uploads",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Config file unreadable, using defaults", "path", path, "error", err)
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			log.Warn("Config file invalid, using defaults", "path", path, "error", err)
		} else {
			log.Info("Loaded config file", "path", path)
		}
	}

	cfg.Port = utils.GetEnv("PORT", cfg.Port, log)
	cfg.UploadDir = utils.GetEnv("UPLOAD_DIR", cfg.UploadDir, log)
	if origins := os.Getenv("ALLOW_ORIGINS"); origins != "" {
		cfg.AllowOrigins = nil
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowOrigins = append(cfg.AllowOrigins, o)
			}
		}
	}
	return cfg
}
