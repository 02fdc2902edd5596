// Package webhooks ingests Perk loyalty webhooks exactly once.
//
// A delivery is parsed into a closed event variant, fingerprinted over its raw
// bytes and recorded in the ledger before reconciliation. A fingerprint that is
// already recorded is acknowledged as a duplicate. When processing fails after
// the record was written the fingerprint is released so the redelivery runs.
package webhooks
