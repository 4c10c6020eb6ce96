// Package ledger persists episode transcripts. Every message the
// moderator routes is recorded with its episode id and sequence number,
// giving an auditable record of who said what and who was granted each
// turn.
package ledger
