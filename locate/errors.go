package locate

import (
	"errors"
	"fmt"
)

var (
	// ErrLocked is returned by every mutator while a solve is in progress.
	ErrLocked = errors.New("solver is locked by an in-progress solve")

	// ErrNotReady is returned by Solve when fewer than dims+1 samples are
	// configured.
	ErrNotReady = errors.New("solver is not ready: insufficient samples")

	// errSingularSubset marks a minimal subset whose geometry admits no
	// unique preliminary solution. The robust loop treats it as a skipped
	// iteration, never as a failed solve.
	errSingularSubset = errors.New("singular sample subset")
)

// ConfigError reports an invalid parameter passed to a setter or to
// Configure. It is always raised synchronously at the offending call.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// EstimationError reports that the robust loop exhausted its iteration
// budget without finding any valid consensus. The solver stays usable;
// callers typically retry with more samples or looser parameters.
type EstimationError struct {
	Iterations int // iterations actually run
	Candidates int // preliminary solutions that were valid
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("no consensus found after %d iterations (%d valid candidates)",
		e.Iterations, e.Candidates)
}
