package kernel

import (
	"fmt"
)

// runSafely runs fn and turns a panic into an error tagged with scope.
// Goroutine and lifecycle boundaries go through it so one module cannot crash the process.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v", scope, recovered)
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
