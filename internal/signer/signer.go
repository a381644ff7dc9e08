package signer

import (
	"crypto/hmac"
	"crypto/sha1"
	"unicode/utf8"

	"github.com/technosupport/ome-policy/internal/policy"
)

const (
	DefaultPolicyQueryKey    = "policy"
	DefaultSignatureQueryKey = "signature"
)

// Config names the query parameters a media server reads the policy and
// signature from, and the optional strict checks to apply.
type Config struct {
	PolicyQueryKey    string
	SignatureQueryKey string
	Options           policy.Options
}

// Signer produces signed policy URLs. A Signer holds no mutable state and
// is safe for concurrent use.
type Signer struct {
	cfg Config
}

func New(cfg Config) *Signer {
	if cfg.PolicyQueryKey == "" {
		cfg.PolicyQueryKey = DefaultPolicyQueryKey
	}
	if cfg.SignatureQueryKey == "" {
		cfg.SignatureQueryKey = DefaultSignatureQueryKey
	}
	return &Signer{cfg: cfg}
}

// Config returns the effective configuration, defaults applied.
func (s *Signer) Config() Config {
	return s.cfg
}

// Sign is the one-shot form of (*Signer).Sign.
func Sign(baseURL, secretKey, policyField, signatureField string, c policy.Constraints) (string, error) {
	return New(Config{PolicyQueryKey: policyField, SignatureQueryKey: signatureField}).Sign(baseURL, secretKey, c)
}

// Sign returns
//
//	baseURL?<policy key>=<policy token>&<signature key>=<signature token>
//
// where the signature is HMAC-SHA1 keyed by secretKey over everything
// before "&<signature key>=".
func (s *Signer) Sign(baseURL, secretKey string, c policy.Constraints) (string, error) {
	p, err := policy.Build(c, s.cfg.Options)
	if err != nil {
		return "", err
	}
	return s.SignPolicy(baseURL, secretKey, p)
}

// SignPolicy signs an already built Policy.
func (s *Signer) SignPolicy(baseURL, secretKey string, p policy.Policy) (string, error) {
	if err := s.checkInputs(baseURL, secretKey); err != nil {
		return "", err
	}

	doc, err := p.Marshal()
	if err != nil {
		return "", err
	}

	streamURL := baseURL + "?" + s.cfg.PolicyQueryKey + "=" + policy.EncodeToken(doc)
	signature := policy.EncodeToken(computeHMAC([]byte(secretKey), []byte(streamURL)))

	return streamURL + "&" + s.cfg.SignatureQueryKey + "=" + signature, nil
}

func (s *Signer) checkInputs(baseURL, secretKey string) error {
	inputs := []struct {
		name  string
		value string
	}{
		{"base_url", baseURL},
		{"secret_key", secretKey},
		{"policy_query_key", s.cfg.PolicyQueryKey},
		{"signature_query_key", s.cfg.SignatureQueryKey},
	}
	for _, in := range inputs {
		if !utf8.ValidString(in.value) {
			return policy.NewEncodingError(in.name, policy.ErrInvalidUTF8)
		}
	}
	return nil
}

func computeHMAC(key, msg []byte) []byte {
	h := hmac.New(sha1.New, key)
	h.Write(msg)
	return h.Sum(nil)
}
