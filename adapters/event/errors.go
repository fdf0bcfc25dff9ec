package event

import "errors"

var errBusClosed = errors.New("event bus closed")
