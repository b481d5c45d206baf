// Package timeres turns a reminder config into absolute fire instants.
//
// One-shot configs fire at Offset.Before(anchor). Recurring habit configs expand
// into a lazily generated sequence of anchor occurrences, one per matching
// calendar date at the anchor's wall-clock time in the anchor's location, and
// Resolve returns the first occurrence whose fire instant is strictly after now.
//
// Everything here is a pure function of its inputs.
package timeres
