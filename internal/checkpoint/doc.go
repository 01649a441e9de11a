// Package checkpoint models how far a downstream consumer has progressed
// through a link stream.
//
// A Checkpoint is one of four variants:
//   - Unknown: the position could not be determined
//   - NotApplicable: the consumer does not read the stream
//   - Direct: an event number within the stream
//   - Logical: a (commit, prepare) position in the global log
//
// Unknown ranks lowest, then NotApplicable, then the numeric variants.
// Direct and Logical positions live in different coordinate systems and
// cannot be compared with each other.
package checkpoint
