package store

import "errors"

var (
	ErrNotFound  = errors.New("store: not found")
	ErrConflict  = errors.New("store: conflict")
	ErrLastOwner = errors.New("store: cannot remove last owner")
)
