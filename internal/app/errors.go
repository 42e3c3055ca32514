package service

import "errors"

// Sentinel error kinds returned by the client.
var (
	ErrInvalidClient     = errors.New("invalid client configuration")
	ErrClientClosed      = errors.New("client is shut down")
	ErrNoObservationSink = errors.New("no observation sink configured")
	ErrRewardRejected    = errors.New("reward rejected")
	ErrRewardTransport   = errors.New("reward transport error")
	ErrEncodeInteraction = errors.New("interaction could not be serialized")
)
