package pdm

import "errors"

var (
	ErrUnknownChannel = errors.New("unknown channel")
	ErrUnknownInput   = errors.New("unknown analogue input")
	ErrDerivedField   = errors.New("field is derived from the channel input")
)
