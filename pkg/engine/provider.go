package engine

import (
	"context"
	"fmt"
	"strings"
)

// Provider is the contract every artifact generator implements.
// An instance is constructed immediately before a run and discarded right after it.
type Provider interface {
	// GenerateAndSave produces or updates the provider's artifacts and reports
	// how many were newly created and how many were changed.
	GenerateAndSave(ctx context.Context, req Request) (Counts, error)
}

// Request carries the per-run inputs handed to a provider.
type Request struct {
	// OutputDir is the directory providers write their artifacts to.
	OutputDir string `json:"output_dir"`
}

// Counts is the outcome of a single provider invocation.
type Counts struct {
	// Created is the number of artifacts that did not exist before the run.
	Created int `json:"created"`

	// Changed is the number of existing artifacts whose content changed.
	Changed int `json:"changed"`
}

// Affected returns Created + Changed.
func (c Counts) Affected() int {
	return c.Created + c.Changed
}

// Factory constructs a fresh provider instance. It takes no arguments.
type Factory func() (Provider, error)

// ContextCloser is implemented by providers that release resources with a context.
type ContextCloser interface {
	Close(ctx context.Context) error
}

// Identity is a stable, process-unique handle for a discovered provider.
// It has the form "<source>:<name>".
type Identity string

// NewIdentity builds an identity from a source name and a provider name.
func NewIdentity(source, name string) Identity {
	return Identity(source + ":" + name)
}

// ParseIdentity validates a user supplied identity string.
func ParseIdentity(s string) (Identity, error) {
	source, name, ok := strings.Cut(s, ":")
	if !ok || source == "" || name == "" {
		return "", fmt.Errorf("invalid provider identity %q: expected <source>:<name>", s)
	}
	return NewIdentity(source, name), nil
}

// Source returns the name of the source that discovered the provider.
func (id Identity) Source() string {
	source, _, _ := strings.Cut(string(id), ":")
	return source
}

// Name returns the provider name within its source.
func (id Identity) Name() string {
	_, name, ok := strings.Cut(string(id), ":")
	if !ok {
		return string(id)
	}
	return name
}

// String implements fmt.Stringer.
func (id Identity) String() string {
	return string(id)
}

// Descriptor describes a discovered provider.
type Descriptor struct {
	// Identity is the handle used to resolve the provider at run time.
	Identity Identity `json:"identity"`

	// DisplayName is the short human readable name.
	DisplayName string `json:"display_name"`

	// Description is optional free text supplied at registration.
	Description string `json:"description,omitempty"`
}
