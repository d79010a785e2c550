// Package llm defines the provider-neutral chat completion contract used by
// the advisory scorer. Provider adapters live in subpackages.
package llm
