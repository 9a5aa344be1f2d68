// Package preview bounds the size of values returned to callers.
//
// It measures a value's size in tokens or characters and produces a
// bounded representation by sampling sequence elements, paginating, or
// truncating a string rendering. Values at or below the size limit
// pass through verbatim.
package preview
