package inspect

import (
	"fmt"
)

// UnresolvableError is returned when the type of an object can not be
// determined.
type UnresolvableError struct {
	Addr uint64
	// Step is the link of the resolution chain that failed.
	Step string
	Err  error
}

func (err *UnresolvableError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("could not resolve type of object at %#x (%s): %v", err.Addr, err.Step, err.Err)
	}
	return fmt.Sprintf("could not resolve type of object at %#x (%s)", err.Addr, err.Step)
}

func (err *UnresolvableError) Unwrap() error {
	return err.Err
}

// MalformedError describes a field that failed a sanity check.
type MalformedError struct {
	Type  string
	Addr  uint64
	Field string
	Value uint64
	Limit uint64
}

func (err *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s at %#x: %s=%d exceeds %d", err.Type, err.Addr, err.Field, err.Value, err.Limit)
}

// maxSaneSize is the largest element count believed for any container.
const maxSaneSize = 1 << 32

const malformedSuffix = " (malformed)"
