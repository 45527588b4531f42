// Package database provides the PostgreSQL connection pool used by the recorder.
package database
