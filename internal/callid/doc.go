// Package callid maps call-site labels to stable 32-bit identifiers.
//
// A CallID tags every record in a trace. The mapping must agree between the
// recording process and the replaying process, so it depends only on the
// label text: labels are normalized to Unicode NFC and hashed with 32-bit
// FNV-1a. Two spellings of the same label that differ only in Unicode
// composition map to the same id.
//
// Label uniqueness is the caller's responsibility. Registry can be used to
// detect collisions between labels that are live at the same time.
package callid
