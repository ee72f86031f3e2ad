package codec

import "io"

// NewEncoder returns a stream encoder using the deterministic mode.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder using the package decode mode.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
