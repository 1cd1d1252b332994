// Package tools exposes tool metadata, payload validation and dispatch for
// the agent runtime. Tools are named callables registered with the
// language-model agent; the model decides when to invoke them.
package tools

// Ident is the strong type for tool identifiers. Use this type in maps and
// APIs to avoid mixing with free-form strings and to document intent at call
// sites.
type Ident string

// String returns the string representation of the identifier.
func (id Ident) String() string {
	return string(id)
}
