package model

import "time"

// AuditEntry captures an operation against the directory service.
type AuditEntry struct {
	ID        uint      `json:"-" cbor:"-" gorm:"primaryKey"`
	Actor     string    `json:"actor" cbor:"actor"`
	Action    string    `json:"action" cbor:"action"`
	Target    string    `json:"target" cbor:"target"`
	Detail    string    `json:"detail,omitempty" cbor:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp" cbor:"timestamp" gorm:"index"`
}
