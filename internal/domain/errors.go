package domain

import "errors"

var (
	// ErrNotFound is returned when a period, assessment or model artifact does not exist
	ErrNotFound = errors.New("not found")

	// ErrFeatureMismatch signals a feature vector whose length or ordering differs
	// from the one a model was trained with. Never degrade on this error.
	ErrFeatureMismatch = errors.New("feature vector mismatch")
)
