package main

import (
	"log"

	"github.com/aussiebroadwan/tillauth/internal/auth/app"
	"github.com/spf13/pflag"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before reading the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	pflag.Parse()

	// An explicitly named env file must exist; the default is optional.
	if err := app.LoadEnvFile(*envFile, pflag.CommandLine.Changed("env-file")); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}

	cfg := app.LoadConfig()

	if *migrateOnly {
		if err := app.Migrate(cfg); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		return
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
