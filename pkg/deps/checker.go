// Package deps verifies that external binaries the orchestrator shells out
// to are installed.
package deps

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog/log"
)

// ErrMissing marks a MissingDepsError.
var ErrMissing = errors.New("missing dependencies")

// Checker verifies that required dependencies are available.
type Checker struct {
	dependencies []string
	lookPath     func(string) (string, error)
}

// NewChecker creates a new dependency checker with the given dependencies.
func NewChecker(deps ...string) *Checker {
	return &Checker{dependencies: deps, lookPath: exec.LookPath}
}

// CheckAll verifies all dependencies are available and logs the result.
func (c *Checker) CheckAll() error {
	missing := c.missing()
	for _, dep := range c.dependencies {
		if !contains(missing, dep) {
			log.Debug().Str("component", "deps").Str("dependency", dep).Msg("Dependency found")
		}
	}
	if len(missing) > 0 {
		log.Error().Str("component", "deps").Strs("missing", missing).Msg("Dependencies not found in PATH")
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

// IsAvailable checks if a single dependency is available in PATH.
func (c *Checker) IsAvailable(name string) bool {
	_, err := c.lookPath(name)
	return err == nil
}

// CheckAndPrint writes a status line per dependency to w.
func (c *Checker) CheckAndPrint(w io.Writer) error {
	var missing []string

	for _, dep := range c.dependencies {
		if c.IsAvailable(dep) {
			fmt.Fprintf(w, "[OK] %s\n", dep)
		} else {
			fmt.Fprintf(w, "[ERROR] '%s' not found in PATH\n", dep)
			fmt.Fprintf(w, "[INFO]  Install '%s' and retry\n\n", dep)
			missing = append(missing, dep)
		}
	}

	if len(missing) > 0 {
		return &MissingDepsError{Dependencies: missing}
	}
	return nil
}

func (c *Checker) missing() []string {
	var out []string
	for _, dep := range c.dependencies {
		if !c.IsAvailable(dep) {
			out = append(out, dep)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MissingDepsError is returned when required dependencies are missing.
type MissingDepsError struct {
	Dependencies []string
}

func (e *MissingDepsError) Error() string {
	return "missing dependencies: " + strings.Join(e.Dependencies, ", ")
}

// Is lets errors.Is match ErrMissing.
func (e *MissingDepsError) Is(target error) bool {
	return target == ErrMissing
}
