// Package chain signs certificate transactions with a secp256k1 wallet and
// submits them to an external ledger. It keeps a publish receipt per run,
// issues signed receipts to submitters and drives the timestamp-guarded
// cron that re-exports and republishes when certificates change.
package chain
