package signature_test

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/credmart/credmart/internal/signature"
)

func TestSignature(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Signature Suite")
}

var _ = Describe("Canonicalize", func() {
	It("should sort keys lexicographically and join with ampersands", func() {
		params := signature.Params{
			"out_trade_no": "VG20250101120000123456",
			"money":        "188.00",
			"pid":          "1001",
		}

		Expect(signature.Canonicalize(params)).To(Equal(
			"money=188.00&out_trade_no=VG20250101120000123456&pid=1001"))
	})

	It("should exclude sign, sign_type and empty values", func() {
		params := signature.Params{
			"pid":       "1001",
			"sign":      "deadbeef",
			"sign_type": "MD5",
			"remark":    "",
			"money":     "10.00",
		}

		Expect(signature.Canonicalize(params)).To(Equal("money=10.00&pid=1001"))
	})

	It("should produce an empty base for an all-excluded set", func() {
		params := signature.Params{"sign": "abc", "note": ""}
		Expect(signature.Canonicalize(params)).To(Equal(""))
	})
})

var _ = Describe("MD5Signer", func() {
	var signer *signature.MD5Signer

	BeforeEach(func() {
		signer = signature.NewMD5Signer("test-md5-key")
	})

	It("should round-trip sign and verify", func() {
		params := signature.Params{
			"pid":          "1001",
			"out_trade_no": "VG1",
			"money":        "188.00",
			"trade_status": "TRADE_SUCCESS",
		}

		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())
		Expect(sig).To(HaveLen(32))
		Expect(signer.Verify(params, sig)).To(BeTrue())
	})

	It("should reject when a signed parameter is mutated", func() {
		params := signature.Params{
			"pid":          "1001",
			"out_trade_no": "VG1",
			"money":        "188.00",
		}
		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())

		params["money"] = "100.00"
		Expect(signer.Verify(params, sig)).To(BeFalse())
	})

	It("should accept uppercase hex from the gateway", func() {
		params := signature.Params{"pid": "1001", "money": "1.00"}
		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())

		upper := ""
		for _, c := range sig {
			if c >= 'a' && c <= 'f' {
				upper += string(c - 32)
			} else {
				upper += string(c)
			}
		}
		Expect(signer.Verify(params, upper)).To(BeTrue())
	})

	It("should not be affected by adding an empty-valued parameter after signing", func() {
		params := signature.Params{"pid": "1001", "money": "1.00"}
		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())

		params["remark"] = ""
		Expect(signer.Verify(params, sig)).To(BeTrue())
	})

	It("should reject with a different key", func() {
		params := signature.Params{"pid": "1001", "money": "1.00"}
		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())

		other := signature.NewMD5Signer("another-key")
		Expect(other.Verify(params, sig)).To(BeFalse())
	})
})

var _ = Describe("RSASigner", func() {
	var (
		signer   *signature.RSASigner
		verifier *signature.RSASigner
	)

	BeforeEach(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		Expect(err).NotTo(HaveOccurred())
		signer = signature.NewRSASigner(key)
		verifier = signature.NewRSAVerifier(&key.PublicKey)
	})

	It("should round-trip sign and verify with only the public key", func() {
		params := signature.Params{
			"out_trade_no": "VG2",
			"trade_status": "TRADE_SUCCESS",
			"total_amount": "188.00",
		}

		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())
		Expect(verifier.Verify(params, sig)).To(BeTrue())
	})

	It("should reject mutated parameters", func() {
		params := signature.Params{"out_trade_no": "VG2", "total_amount": "188.00"}
		sig, err := signer.Sign(params)
		Expect(err).NotTo(HaveOccurred())

		params["total_amount"] = "1.00"
		Expect(verifier.Verify(params, sig)).To(BeFalse())
	})

	It("should reject garbage that is not base64", func() {
		params := signature.Params{"out_trade_no": "VG2"}
		Expect(verifier.Verify(params, "%%%not-base64%%%")).To(BeFalse())
	})

	It("should refuse to sign without a private key", func() {
		_, err := verifier.Sign(signature.Params{"a": "b"})
		Expect(err).To(HaveOccurred())
	})
})
