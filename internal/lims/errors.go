package lims

import (
	"errors"
	"fmt"
)

// ErrOneResultExpected matches every *OneResultExpectedError.
var ErrOneResultExpected = errors.New("expected exactly one result")

// OneResultExpectedError reports a lookup that matched zero or several rows.
type OneResultExpectedError struct {
	What  string
	ID    int64
	Count int
}

func (e *OneResultExpectedError) Error() string {
	return fmt.Sprintf("%s for id %d: expected exactly one result, got %d", e.What, e.ID, e.Count)
}

func (e *OneResultExpectedError) Is(target error) bool {
	return target == ErrOneResultExpected
}
