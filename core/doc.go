// Package core holds the treasury vault domain: addresses and their
// derivation, the vault record, the error taxonomy, the audit events and the
// Service that runs every vault instruction. Storage, custody and dispatch
// adapters depend on this package; core depends on none of them.
package core
