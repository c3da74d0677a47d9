package canon

import (
	"fmt"

	"github.com/gowebpki/jcs"
)

// VerifyWireCanonical checks that raw (as received over the wire) is already
// in RFC 8785 canonical form, using the reference gowebpki/jcs transform
// rather than our own recursive marshaler. A mandate token that fails this
// check was not produced by a conforming issuer and is rejected before any
// cryptographic work is attempted — cheaper than a signature verification
// and catches a wider class of malformed input.
func VerifyWireCanonical(raw []byte) error {
	transformed, err := jcs.Transform(raw)
	if err != nil {
		return fmt.Errorf("canon: not valid JSON for canonicalization: %w", err)
	}
	if string(transformed) != string(raw) {
		return fmt.Errorf("canon: input is not in canonical form")
	}
	return nil
}
