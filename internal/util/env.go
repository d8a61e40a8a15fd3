package util

import (
	"github.com/OFFIS-RIT/toolgraph/backend/pkg/logger"

	"github.com/joho/godotenv"
)

// LoadEnv loads .env into the process environment. Variables that are
// already set win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file found, using system environment variables")
	}
}
