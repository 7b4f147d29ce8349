package profiling

import (
	"errors"
	"fmt"
)

// ErrUseAfterDispose is returned by every operation that would touch the
// snapshot memory after the dataset was disposed. It signals a lifecycle bug
// in the caller and is never retried.
var ErrUseAfterDispose = errors.New("profiling data set used after dispose")

func useAfterDispose(op string) error {
	return fmt.Errorf("%s: %w", op, ErrUseAfterDispose)
}
