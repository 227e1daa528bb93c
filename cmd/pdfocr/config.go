package main

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type Config struct {
	Listen   string `yaml:"listen"`
	LogLevel string `yaml:"log-level"`
	Root     struct {
		Data  string `yaml:"data"`
		Inbox string `yaml:"inbox"`
	} `yaml:"root"`
	State string `yaml:"state"`
	OCR   struct {
		Languages []string `yaml:"languages"`
		Tessdata  string   `yaml:"tessdata"`
		PSM       int      `yaml:"psm"`
	} `yaml:"ocr"`
	Render struct {
		Command string `yaml:"command"`
		DPI     int    `yaml:"dpi"`
	} `yaml:"render"`
	Upload struct {
		Rate  float64 `yaml:"rate"`
		Burst int     `yaml:"burst"`
	} `yaml:"upload"`
}

func defaultConfig() (cfg Config) {
	cfg.Listen = "0.0.0.0:7860"
	cfg.LogLevel = "info"
	cfg.Root.Data = "."
	cfg.OCR.Languages = []string{"eng"}
	cfg.Render.Command = "pdftoppm"
	cfg.Render.DPI = 200
	cfg.Upload.Rate = 2
	cfg.Upload.Burst = 5
	return
}

// loadConfig overlays the YAML file at path onto the defaults. A missing file
// is only an error when required is set.
func loadConfig(path string, required bool) (cfg Config, err error) {
	cfg = defaultConfig()

	f, err := os.Open(path)
	if os.IsNotExist(err) && !required {
		return cfg, nil
	}
	if err != nil {
		return cfg, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	err = decoder.Decode(&cfg)
	if err != nil {
		return cfg, errors.Wrapf(err, "decode config %s", path)
	}
	return
}

// statePath defaults the job database into the data directory.
func (cfg Config) statePath() string {
	if cfg.State != "" {
		return cfg.State
	}
	return filepath.Join(cfg.Root.Data, "pdfocr-state.db")
}
