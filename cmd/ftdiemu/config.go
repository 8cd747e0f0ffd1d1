package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ardnew/softftdi/pkg"
)

// envPrefix prefixes the environment variable of every flag:
// --bus-dir is FTDIEMU_BUS_DIR.
const envPrefix = "FTDIEMU_"

// defaultEnvFile is loaded when present; --env-file makes it mandatory.
const defaultEnvFile = ".env"

func envName(flag string) string {
	return envPrefix + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// loadEnvFile adds the variables of path to the environment. Variables
// already set win over the file. A missing file is only an error when it
// was asked for explicitly.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if err == nil {
		pkg.LogDebug(pkg.ComponentCLI, "environment file loaded", "path", path)
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("env file %s: %w", path, err)
}

// applyEnv sets every flag that was not given on the command line from its
// FTDIEMU_* variable. Empty variables are ignored. The first invalid value
// is returned after all flags are visited.
func applyEnv(flags *pflag.FlagSet) error {
	var firstErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envName(f.Name)
		v, ok := os.LookupEnv(name)
		v = strings.TrimSpace(v)
		if !ok || v == "" {
			return
		}
		if err := flags.Set(f.Name, v); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("invalid %s: %w", name, err)
		}
	})
	return firstErr
}

// logOptions are the persistent logging flags.
type logOptions struct {
	level  string
	format string
}

func (o *logOptions) apply() error {
	level, err := pkg.ParseLogLevel(o.level)
	if err != nil {
		return err
	}
	format, err := pkg.ParseLogFormat(o.format)
	if err != nil {
		return err
	}
	pkg.SetLogLevel(level)
	pkg.SetLogFormat(format)
	return nil
}
