package entity

import "errors"

var (
	ErrInvalidMessageID   = errors.New("invalid message id")
	ErrInvalidMessageRole = errors.New("invalid message role")
)
