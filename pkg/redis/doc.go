// Package redis connects to a Redis server with go-redis and exposes a
// health check for readiness checks.
//
// Configuration is read from REDIS_* environment variables through Config.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
// Connect retries with the configured interval until the server answers a
// ping or the connect timeout elapses. Sentinel errors are joined with the
// underlying go-redis error so callers can match them with errors.Is.
package redis
