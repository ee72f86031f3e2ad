package model

// Request is the envelope that travels between the front end, route handlers
// and the directory service.
type Request struct {
	Method   string            `json:"method" cbor:"method"`
	URL      string            `json:"url" cbor:"url"`
	Headers  map[string]string `json:"headers" cbor:"headers"`
	Body     any               `json:"body,omitempty" cbor:"body,omitempty"`
	Internal bool              `json:"internal,omitempty" cbor:"internal,omitempty"` // set only by trust.Gate.Internal
}

// Reply completes a request. A non-nil err reports a failure and payload is ignored.
type Reply func(err error, payload any)

// Handler consumes a request and eventually invokes reply exactly once.
type Handler func(req *Request, reply Reply)

// SetHeader sets a header, allocating the map on first use.
func (r *Request) SetHeader(key, value string) {
	if r.Headers == nil {
		r.Headers = make(map[string]string)
	}
	r.Headers[key] = value
}

// Header returns the named header or "".
func (r *Request) Header(key string) string {
	if r.Headers == nil {
		return ""
	}
	return r.Headers[key]
}
