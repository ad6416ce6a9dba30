// Package sqlitedb opens the SQLite databases behind the result cache and
// the item registry: connection settings, embedded schema creation with a
// version check, and retries on SQLITE_BUSY.
package sqlitedb
