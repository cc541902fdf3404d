// Package policy gates provider runs with an Open Policy Agent admission
// policy.
//
// The policy is a Rego module in package resgen.admission. It is evaluated
// once per provider run with the input
//
//	{"identity": "script:docs", "source": "script", "name": "docs"}
//
// A run is admitted only when allow is true. Messages in the optional deny
// set are reported as the reason for a refusal:
//
//	package resgen.admission
//
//	import rego.v1
//
//	default allow := false
//
//	allow if input.source == "builtin"
//
//	deny contains msg if {
//	    input.source == "wasm"
//	    msg := "wasm providers are disabled"
//	}
package policy
