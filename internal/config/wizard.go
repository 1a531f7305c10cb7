package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through the settings needed to serve customers, starting from
// base. Empty answers keep the current value.
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := *base
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== Menubot Configuration Wizard ===")
	fmt.Fprintln(w.out)

	for {
		provider, err := w.ask("LLM provider (openai/anthropic)", cfg.LLM.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.LLM.Provider = provider
		break
	}

	for {
		key, err := w.ask("API key", mask(cfg.LLM.APIKey))
		if err != nil {
			return nil, err
		}
		if key == mask(cfg.LLM.APIKey) {
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.LLM.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.LLM.APIKey = key
		break
	}

	var err error
	if cfg.LLM.Model, err = w.ask("Primary model", cfg.LLM.Model); err != nil {
		return nil, err
	}
	if cfg.LLM.FallbackModel, err = w.ask("Fallback model", cfg.LLM.FallbackModel); err != nil {
		return nil, err
	}
	if cfg.Engine.RestaurantName, err = w.ask("Restaurant name", cfg.Engine.RestaurantName); err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out)
	enable, err := w.ask("Send menu images through the WhatsApp bridge? (y/n)", yesNo(cfg.Bridge.Enabled))
	if err != nil {
		return nil, err
	}
	cfg.Bridge.Enabled = strings.EqualFold(enable, "y")
	if cfg.Bridge.Enabled {
		if cfg.Bridge.URL, err = w.ask("Bridge URL", cfg.Bridge.URL); err != nil {
			return nil, err
		}
	}

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")
	return &cfg, nil
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}

func (w *Wizard) ask(prompt, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}
