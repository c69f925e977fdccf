package model

import "errors"

var (
	// ErrNoRobotConnected is returned when an SDP offer arrives and no
	// client with the robot identity is connected.
	ErrNoRobotConnected = errors.New("no robot client connected")

	// ErrAnswerTimeout is returned when the robot does not answer an SDP
	// offer within the exchange deadline.
	ErrAnswerTimeout = errors.New("timed out waiting for SDP answer")

	// ErrEmptyUpdate is returned when an update frame carries no keys.
	ErrEmptyUpdate = errors.New("update carries no keys")
)
