package model

// Endpoints are the directory service addresses a node talks to.
type Endpoints struct {
	Server string `json:"server" cbor:"server"` // request/reply RPC
	Radio  string `json:"radio" cbor:"radio"`   // pub/sub
}
