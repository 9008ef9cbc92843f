package conventions

import (
	"os"
	"path/filepath"
)

const (
	// AppName is the application name.
	AppName = "stepper"
	// DefaultDataDir is the default stepper data directory name (relative to home).
	DefaultDataDir = ".stepper"
	// DBFile is the checkpoint SQLite database filename.
	DBFile = "stepper.db"
	// PlansDir is the subdirectory for the YAML plan templates.
	PlansDir = "plans"
	// EnvFile is the optional dotenv filename.
	EnvFile = ".env"
	// EnvPrefix is the prefix of the environment variables bound to the flags.
	EnvPrefix = "STEPPER"
)

// DBPath returns the path of the checkpoint database.
func DBPath(dataDir string) string {
	return filepath.Join(dataDir, DBFile)
}

// PlansPath returns the directory of the plan templates.
func PlansPath(dataDir string) string {
	return filepath.Join(dataDir, PlansDir)
}

// EnvFiles returns the dotenv files to load, the first ones have precedence.
func EnvFiles() []string {
	files := []string{EnvFile}
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, AppName, EnvFile))
	}
	return files
}
