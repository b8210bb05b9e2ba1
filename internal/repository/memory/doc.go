// Package memory holds in-process repository implementations. The server
// and worker use them when no DATABASE_URL is configured, and service tests
// use them as fakes.
package memory
