// Package engine defines the provider contract and runs providers with fault isolation.
//
// # Provider Contract
//
// A provider is a stateless artifact generator. The engine constructs a fresh
// instance through its Factory, calls GenerateAndSave exactly once, and then
// releases it:
//
//	type Provider interface {
//	    GenerateAndSave(ctx context.Context, req Request) (Counts, error)
//	}
//
// Instances that hold resources implement io.Closer or ContextCloser. The
// engine releases them on every path, including errors and panics.
//
// # Identities
//
// Discovered providers are addressed by an Identity of the form
// "<source>:<name>", for example "builtin:artifact-index" or
// "script:docs". A Resolver maps an identity back to a Factory at run time.
//
// # Fault Isolation
//
// Run never panics and never returns an error. Resolution failures, admission
// denials, construction errors, generation errors, panics and negative counts
// all produce a failed RunResult with zero counts. RunAll runs identities
// strictly in order and never skips a provider because an earlier one failed:
//
//	eng := engine.New(registry, sink, engine.WithOutputDir("generated"))
//	batch := eng.RunAll(ctx, ids)
//	fmt.Println(batch.TotalCreated, batch.TotalChanged, batch.Failed())
//
// # Error Classification
//
// Failures are classified so callers and metrics can tell them apart:
//
//   - Resolution: the identity no longer maps to a loadable provider
//   - Execution: construction or generation failed, or the provider panicked
//   - InvalidResult: the provider reported negative counts
//   - Denied: the admission policy refused the run
package engine
