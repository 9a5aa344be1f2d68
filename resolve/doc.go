// Package resolve substitutes cache references nested anywhere in an
// input structure with their resolved values.
//
// A reference is either a bare string matching the reference id
// grammar or a structured reference-shaped object. The resolver walks
// mappings and sequences to arbitrary depth, permission-checks every
// detected reference, and either fails fast or collects per-reference
// errors while the rest of the structure resolves normally.
package resolve
