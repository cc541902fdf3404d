// Package config loads the resgen settings file.
//
// Settings are read from resgen.yaml by default. A path ending in .cue is
// evaluated with CUE against the embedded #Settings schema instead, which
// supplies the defaults and rejects unknown keys:
//
//	output_path:    "site"
//	log_generation: true
//
// Manager.Load never fails. When the file is missing or cannot be parsed it
// is rewritten with the defaults; when it parses but does not validate the
// defaults are used for the current operation and the file is left alone.
package config
