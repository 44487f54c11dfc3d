// Package flagenv fills command line flags from environment variables.
package flagenv

import (
	"errors"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"
)

// Name returns the environment variable for a flag: upper-cased with dashes
// as underscores, so --postgres-host reads POSTGRES_HOST.
func Name(flagName string) string {
	return strings.ToUpper(strings.ReplaceAll(flagName, "-", "_"))
}

// Apply sets every flag not given on the command line from its environment
// variable. Flags set explicitly always win.
func Apply(fs *flag.FlagSet) error {
	var errs []error
	fs.VisitAll(func(f *flag.Flag) {
		if f.Changed {
			return
		}
		name := Name(f.Name)
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := fs.Set(f.Name, v); err != nil {
				errs = append(errs, fmt.Errorf("env %s: %w", name, err))
			}
		}
	})
	return errors.Join(errs...)
}
