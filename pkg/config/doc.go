// Package config parses environment variables into typed configuration
// structs using struct tags from github.com/caarlos0/env.
//
// Values from .env files (loaded with github.com/joho/godotenv) never override
// variables already present in the process environment.
//
// Every call to Load parses afresh and returns a value. There is no
// package-level cache: main loads each struct once and hands the result to
// the constructors that need it, which keeps configuration immutable after
// startup and makes tests independent of each other.
//
//	type PaymentConfig struct {
//		APIKey  string        `env:"STRIPE_API_KEY,required"`
//		Timeout time.Duration `env:"PROCESSOR_TIMEOUT" envDefault:"10s"`
//	}
//
//	cfg, err := config.Load[PaymentConfig]()
package config
