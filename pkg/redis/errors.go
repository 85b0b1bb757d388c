package redis

import "errors"

var (
	ErrEmptyURL    = errors.New("redis: REDIS_URL is empty")
	ErrInvalidURL  = errors.New("redis: cannot parse connection url")
	ErrNotReady    = errors.New("redis: server did not answer ping before the connect deadline")
	ErrUnavailable = errors.New("redis: server is not reachable")
)
