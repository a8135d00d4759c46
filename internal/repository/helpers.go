package repository

import "time"

// ledgerTimeLayout sorts lexically in the same order as time.
const ledgerTimeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatLedgerTime(t time.Time) string {
	return t.UTC().Format(ledgerTimeLayout)
}

// boolToInt converts a Go bool to an integer (0 or 1) for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// intToBool converts a SQLite integer (0 or 1) to a Go bool.
func intToBool(i int) bool {
	return i != 0
}
