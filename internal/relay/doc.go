// Package relay receives OSC messages on UDP listeners and forwards them to
// other endpoints according to ordered topic-pattern rules.
//
// A Registry owns every running Instance, keyed by configuration id. Each
// Instance binds one socket, compiles its enabled mappings into a Table once
// at start, and hands decoded messages to a bounded worker pool. Matched
// messages are re-addressed and sent through a shared ClientPool; everything
// is recorded in a LogStore.
package relay
