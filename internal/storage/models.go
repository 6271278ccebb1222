package storage

import "time"

type AuditEntry struct {
	ID        int64
	UserID    int64
	Action    string
	MetaJSON  string
	CreatedAt time.Time
}
