// Package bootloader runs the command loop of the serial bootloader.
//
// The Dispatcher reads one length-prefixed frame at a time, verifies it, runs
// the matching command against the flash manager and the chip accessors, and
// answers with exactly one ACK or NACK before reading the next frame.
//
// The loop has no terminal state. Run returns only when a JUMP_TO_ADDRESS
// request passed validation (the returned Handoff is the transfer of control
// out of the bootloader) or when a fatal fault leaves nothing safe to do.
package bootloader
