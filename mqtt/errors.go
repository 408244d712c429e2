package mqtt

import "errors"

var (
	// ErrNotConnected is returned by Subscribe, Unsubscribe and Publish when
	// the session is not connected.
	ErrNotConnected = errors.New("mqtt: session not connected")

	// ErrInvalidSession is returned when a session id is out of range or
	// already bound to a client.
	ErrInvalidSession = errors.New("mqtt: invalid session id")

	// ErrNoTopics is returned by Subscribe and Unsubscribe when called without
	// topics.
	ErrNoTopics = errors.New("mqtt: no topics")
)
