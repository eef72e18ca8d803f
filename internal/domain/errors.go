package domain

import "github.com/pkg/errors"

// ErrNotFound no balance row exists yet for the user. It is a valid zero state.
var ErrNotFound = errors.New("not found")
