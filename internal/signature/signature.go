package signature

import (
	"crypto"
	"crypto/md5"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
)

// Wire values of the sign_type parameter.
const (
	SignTypeMD5  = "MD5"
	SignTypeRSA2 = "RSA2"
)

// Params is the raw parameter set of a gateway request or notification.
type Params map[string]string

// Signer produces and checks signatures over the canonical parameter form.
// The canonicalization rules are part of the wire contract with the gateway
// and must not drift.
type Signer interface {
	Sign(params Params) (string, error)
	Verify(params Params, claimed string) bool
}

// Canonicalize builds the signing base: the sign and sign_type keys and any
// key with an empty value are excluded, the remaining keys are sorted
// lexicographically and joined as key=value pairs with '&'.
//
// Excluding empty values matches the gateway's own convention. It is a known
// source of signature drift should the gateway ever change its
// canonicalization; brittle, but it is the contract.
func Canonicalize(params Params) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// MD5Signer implements the gateway's legacy key-append scheme: the shared
// secret is appended to the canonical form and the whole string is MD5
// hashed, hex encoded.
type MD5Signer struct {
	key string
}

func NewMD5Signer(key string) *MD5Signer {
	return &MD5Signer{key: key}
}

func (s *MD5Signer) Sign(params Params) (string, error) {
	base := Canonicalize(params) + s.key
	sum := md5.Sum([]byte(base))
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the signature and compares in constant time. A
// well-formed but wrong signature is a false, never an error.
func (s *MD5Signer) Verify(params Params, claimed string) bool {
	expected, _ := s.Sign(params)
	return subtle.ConstantTimeCompare(
		[]byte(expected),
		[]byte(strings.ToLower(claimed)),
	) == 1
}

// RSASigner implements the public-key scheme (RSA-SHA256 over the canonical
// form, base64-encoded). Verification needs only the gateway's public key;
// signing also needs a private key and is used by the simulated-webhook
// harness and by tests.
type RSASigner struct {
	pub  *rsa.PublicKey
	priv *rsa.PrivateKey
}

func NewRSAVerifier(pub *rsa.PublicKey) *RSASigner {
	return &RSASigner{pub: pub}
}

func NewRSASigner(priv *rsa.PrivateKey) *RSASigner {
	return &RSASigner{priv: priv, pub: &priv.PublicKey}
}

func (s *RSASigner) Sign(params Params) (string, error) {
	if s.priv == nil {
		return "", errors.New("rsa signer has no private key")
	}
	digest := sha256.Sum256([]byte(Canonicalize(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

func (s *RSASigner) Verify(params Params, claimed string) bool {
	if s.pub == nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(claimed)
	if err != nil {
		return false
	}
	digest := sha256.Sum256([]byte(Canonicalize(params)))
	return rsa.VerifyPKCS1v15(s.pub, crypto.SHA256, digest[:], sig) == nil
}
