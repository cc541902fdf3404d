// Package orchestrator ties discovery, execution, timing and log flushing
// together into the operations a user triggers: refresh the provider list,
// run every provider, or run a single one.
//
// Each operation clears the shared log sink, reads the settings once, and
// never returns an error; problems are reported through the log stream.
// Operations are serialized so their log output never interleaves.
//
// When log_generation is enabled the log is saved to log_dir/log_file,
// to the run history database if one is configured, and to remote_log over
// SFTP if that is set.
package orchestrator
