// Package device provides the BLE peripheral core shared by the accessory
// protocols.
//
// It implements:
//   - the transport contract (IODevice) a BLE backend must satisfy
//   - per-characteristic serialised writes (at most one in flight per characteristic)
//   - marshaling of transport callbacks onto a single-consumer event queue
//   - optional capability hooks protocol implementations opt into
//   - SendProgress bookkeeping for object-based transfers
package device
