// Package config holds the agent configuration model: the static Options
// loaded at startup, the sparse Delta received from central configuration,
// the immutable Snapshot combining both and the Store publishing the live
// snapshot to concurrent readers.
package config
