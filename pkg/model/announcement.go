package model

import "time"

// Announcement is a node's claim to serve a route at an address.
type Announcement struct {
	NodeID  string    `json:"nodeId" cbor:"nodeId" gorm:"size:128;index"`
	Route   string    `json:"route" cbor:"route" gorm:"primaryKey;size:512"`
	Address string    `json:"address" cbor:"address" gorm:"size:255"`
	At      time.Time `json:"at" cbor:"at"`
}
