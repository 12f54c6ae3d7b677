package iotcore

import "encoding/base64"

// Base64 marshalling (C3) is used to carry raw parameter bytes across the
// command-line boundary described in §4.6.3. RFC 4648 with '=' padding is
// exactly stdlib's base64.StdEncoding — there is no ecosystem replacement
// that does anything but wrap this same stdlib call, so this is one of the
// few components implemented directly on the standard library (see
// DESIGN.md).

// Base64EncodedSize returns the upper-bound encoded length for n input
// bytes: 4*ceil(n/3), per §4.3.
func Base64EncodedSize(n int) int {
	return base64.StdEncoding.EncodedLen(n)
}

// Base64DecodedSize returns the upper-bound decoded length for n encoded
// bytes: 3*ceil(n/4), per §4.3.
func Base64DecodedSize(n int) int {
	return 3 * ((n + 3) / 4)
}

// Base64Encode encodes data with standard padding.
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64Decode decodes s, returning an error for any non-alphabet,
// non-padding character — the Go equivalent of the source's "-1 fails the
// whole decode" contract.
func Base64Decode(s string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, withMessage(BadRequest, "invalid base64 input: %v", err)
	}
	return out, nil
}
