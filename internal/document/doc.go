// Package document defines the value types exchanged by the differential
// synchronization protocol: working documents, shadows, backup shadows,
// the edit constraint, and the tagged JSON value representation with
// canonical serialization and content checksums.
//
// All records are value types. "Mutating" a document means storing a
// replacement record; nothing in this package shares state.
package document
