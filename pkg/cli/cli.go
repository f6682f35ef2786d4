package cli

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrblonde/orders/pkg/config"
)

const defaultEnvFile = ".env"

// Flags are the persistent flags shared by every command. Each one falls
// back to an environment variable.
type Flags struct {
	Debug      bool
	ConfigPath string
	EnvFile    string
}

// NewRootCommand builds the orders command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	flags := &Flags{}

	root := &cobra.Command{
		Use:           "orders",
		Short:         "Mr. Blonde Orders web server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return loadEnvFile(flags.EnvFile)
		},
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().BoolVar(&flags.Debug, "debug", getEnvBool("ORDERS_DEBUG", false),
		"Enable debug logging, gin debug mode and CORS for the local frontend dev server")
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", getEnvString(config.PathEnvVar, ""),
		"Path to the configuration file (default "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&flags.EnvFile, "env-file", getEnvString("ORDERS_ENV_FILE", defaultEnvFile),
		"Dotenv file loaded before reading the configuration; existing variables win")

	root.AddCommand(
		newServeCommand(flags),
		newVersionCommand(),
		newCheckConfigCommand(flags),
	)
	return root
}

// loadEnvFile reads a dotenv file into the process environment. Variables
// already set are not overridden, and a missing default file is fine.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err != nil && path == defaultEnvFile && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (f *Flags) Print(log *zap.SugaredLogger) {
	log.Infow("CLI configuration",
		"debug", f.Debug,
		"config_path", f.ConfigPath,
		"env_file", f.EnvFile,
	)
}

// getEnvString returns the value of an environment variable, or the provided default if not set.
func getEnvString(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvBool returns the value of an environment variable as a bool, or the provided default if not set.
// Valid true values are "true", "1", "yes" (case-insensitive).
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(val) {
		case "true", "1", "yes":
			return true
		case "false", "0", "no":
			return false
		}
	}
	return defaultVal
}
