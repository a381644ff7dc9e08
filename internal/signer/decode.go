package signer

import (
	"errors"
	"fmt"
	"strings"

	"github.com/technosupport/ome-policy/internal/policy"
)

var (
	ErrNoPolicyParam    = errors.New("no policy parameter in url")
	ErrNoSignatureParam = errors.New("no signature parameter in url")
)

// Decoded is a signed URL split back into its parts. Decoding does not
// check the signature.
type Decoded struct {
	// SignedPrefix is the exact string the signature was computed over.
	SignedPrefix string
	PolicyJSON   []byte
	Policy       policy.Policy
	Signature    []byte
}

// Decode splits a URL produced by Sign. Empty field names mean the defaults.
func Decode(signedURL, policyField, signatureField string) (*Decoded, error) {
	if policyField == "" {
		policyField = DefaultPolicyQueryKey
	}
	if signatureField == "" {
		signatureField = DefaultSignatureQueryKey
	}

	sigMarker := "&" + signatureField + "="
	i := strings.LastIndex(signedURL, sigMarker)
	if i < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoSignatureParam, signatureField)
	}
	prefix, sigToken := signedURL[:i], signedURL[i+len(sigMarker):]

	policyMarker := "?" + policyField + "="
	j := strings.LastIndex(prefix, policyMarker)
	if j < 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoPolicyParam, policyField)
	}
	policyToken := prefix[j+len(policyMarker):]

	doc, err := policy.DecodeToken(policyToken)
	if err != nil {
		return nil, fmt.Errorf("policy token: %w", err)
	}
	p, err := policy.Unmarshal(doc)
	if err != nil {
		return nil, err
	}
	sig, err := policy.DecodeToken(sigToken)
	if err != nil {
		return nil, fmt.Errorf("signature token: %w", err)
	}

	return &Decoded{
		SignedPrefix: prefix,
		PolicyJSON:   doc,
		Policy:       p,
		Signature:    sig,
	}, nil
}
