// Package database provides connection management, schema bootstrap, data
// seeding, configuration types, logging, health checks, and related
// utilities built on top of Bun.
package database
