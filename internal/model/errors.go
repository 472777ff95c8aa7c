package model

import (
	"errors"
)

var (
	ErrUnknownProfile = errors.New("unknown profile")
	ErrRunInProgress  = errors.New("run in progress")
)
