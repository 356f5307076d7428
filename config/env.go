package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds process settings read from the environment. Command-line flags
// override them.
type Env struct {
	RunsRoot       string `env:"FEASOPT_RUNS_ROOT"       envDefault:"runs"`
	LogLevel       string `env:"FEASOPT_LOG_LEVEL"       envDefault:"info"`
	LogFormat      string `env:"FEASOPT_LOG_FORMAT"      envDefault:"console"`
	LedgerPath     string `env:"FEASOPT_LEDGER"`
	MetricsAddr    string `env:"FEASOPT_METRICS_ADDR"`
	JaegerEndpoint string `env:"FEASOPT_JAEGER_ENDPOINT"`
}

// ParseEnv parses environment variables into target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// LoadEnv reads Env from the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := ParseEnv(&e); err != nil {
		return Env{}, err
	}
	return e, nil
}
