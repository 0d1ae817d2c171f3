package adapters

import "errors"

var (
	// ErrStreamTimeout means no line arrived within the inactivity timeout.
	ErrStreamTimeout = errors.New("alarm stream inactivity timeout")
	// ErrPullPointUnsupported means the device does not offer pull-point events.
	ErrPullPointUnsupported = errors.New("device does not support pull-point events")
)
