package models

import (
	"errors"
	"fmt"
	"sort"
)

// EnqueueError reports which case numbers of a batch enqueue were not accepted.
type EnqueueError struct {
	Failed map[string]error
}

func (e *EnqueueError) Error() string {
	keys := make([]string, 0, len(e.Failed))
	for k := range e.Failed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("failed to enqueue %d case(s): %v", len(keys), keys)
}

func (e *EnqueueError) Unwrap() error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
