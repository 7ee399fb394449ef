package sgx

import (
	"crypto/x509"
	"encoding/pem"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// TrustAnchors holds the Intel SGX root of trust this adapter verifies
// against: the root CA certificate, any intermediate CAs, and the CRLs
// fetched from PCS. LastUpdated is a microseconds-since-epoch timestamp
// used by the cache-expiry check in pcs.go.
type TrustAnchors struct {
	RootCAPEM         string
	IntermediatePEMs  []string
	CRLs              [][]byte
	LastUpdated       uint64
}

// ParseCertChain splits a PEM bundle into individual certificates, leaf
// first.
func ParseCertChain(pemChain string) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	rest := []byte(pemChain)
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, sentinelerr.WrapSub(sentinelerr.SubChainUntrusted, "parse PCK chain certificate", err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, sentinelerr.WrapSub(sentinelerr.SubChainUntrusted, "PCK chain contains no certificates", nil)
	}
	return certs, nil
}

// VerifyPCKChain checks that certs chains up to trustAnchors' root CA. It
// does not consult CRLs — that is handled separately by CheckRevocation
// against the PCS-fetched TCB info, which is the authoritative revocation
// signal for SGX platforms rather than certificate-level CRLs.
func VerifyPCKChain(certs []*x509.Certificate, trustAnchors TrustAnchors) error {
	if len(certs) == 0 {
		return sentinelerr.WrapSub(sentinelerr.SubChainUntrusted, "empty PCK chain", nil)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM([]byte(trustAnchors.RootCAPEM)) {
		return sentinelerr.WrapSub(sentinelerr.SubChainUntrusted, "root CA certificate is not valid PEM", nil)
	}

	intermediates := x509.NewCertPool()
	for _, pemBlock := range trustAnchors.IntermediatePEMs {
		intermediates.AppendCertsFromPEM([]byte(pemBlock))
	}
	for _, c := range certs[1:] {
		intermediates.AddCert(c)
	}

	leaf := certs[0]
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return sentinelerr.WrapSub(sentinelerr.SubChainUntrusted, "PCK chain does not verify to trust anchor", err)
	}
	return nil
}
