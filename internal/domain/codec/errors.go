package codec

import "errors"

// Sentinel error kinds for the wire codec.
var (
	ErrEncode = errors.New("encode failed")
	ErrDecode = errors.New("decode failed")
)
