// Package dataset reads and writes the flat files exchanged between fetch
// runs and gap detection.
//
// Three formats are supported:
//   - the duties CSV (Epoch, Slot, Validator Index, Public Key), header always present
//   - flat epoch lists, one integer per line without header
//   - the outcome ledger (Epoch, Status, Records, Error), one row per requested epoch
//
// The ledger records empty and failed epochs explicitly, which the duties
// CSV cannot: an epoch without duties produces no rows there.
//
// File writes go through a temporary file in the target directory and a
// rename, so readers never observe a partially written dataset.
package dataset
