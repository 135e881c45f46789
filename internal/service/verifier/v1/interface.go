package verifier

import "github.com/danilovkiri/dk-go-prepcredits/internal/service/verifier/v1/verifier"

// Verifier checks payment confirmation signatures.
type Verifier interface {
	Verify(payload []byte, signature, secret string, scheme verifier.Scheme) bool
}
