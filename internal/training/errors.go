package training

import (
	"errors"
	"fmt"
)

var (
	// ErrTrainingInProgress is returned when another run holds the training lock
	ErrTrainingInProgress = errors.New("training already in progress")

	// ErrTrainingThrottled is returned when runs are requested faster than the configured interval
	ErrTrainingThrottled = errors.New("training throttled")
)

// InsufficientDataError reports too few labeled samples to train
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient labeled samples: have %d, need %d", e.Have, e.Need)
}
