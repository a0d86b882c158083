// Package storage persists the audit trail of relay control operations.
//
// Two drivers exist: "file" appends JSON Lines to <path>.audit.jsonl and
// "sqlite" writes to a SQLite database. Open returns (nil, nil) when storage
// is disabled; callers treat a nil Store as "no audit trail".
package storage
