// Package sgx implements the Intel SGX/DCAP ECDSA-p256 quote v3 reference
// adapter (spec.md §4.5).
package sgx

import (
	"encoding/binary"

	"github.com/tala-robotics/sentinel/internal/sentinelerr"
)

// QuoteV3 is the parsed form of an SGX ECDSA-p256 quote, version 3.
type QuoteV3 struct {
	Version             uint16
	AttestationKeyType  uint16
	QeSvn               uint16
	PceSvn              uint16
	MrEnclave           [32]byte
	MrSigner            [32]byte
	IsvProdID           uint16
	IsvSvn              uint16
	ReportData          [64]byte
	DebugMode           bool
	Signature           []byte
	CertificationData   string // raw auxiliary data blob, not further parsed
}

const (
	attestationKeyTypeECDSAP256 = 2

	reportBodyOffset = 48
	reportBodyLen    = 432

	attributesOffset = 48 // within report_body
	mrEnclaveOffset  = 48 + 64
	mrSignerOffset   = 48 + 64 + 32
	isvProdIDOffset  = 48 + 64 + 32 + 32 + 96
	isvSvnOffset     = isvProdIDOffset + 2
	reportDataOffset = reportBodyLen - 64
)

// ParseQuoteV3 parses the header, report body, and signature of an SGX
// quote v3. Any bytes after the signature (the certification-data trailer)
// are carried through unparsed in CertificationData, which VerifyQuote reads
// as a PEM PCK chain when it is non-empty. No structured PCK chain is
// extracted from the signature data itself — that requires the QE Auth Data
// sub-parser Intel's spec defines separately, which is out of scope here.
func ParseQuoteV3(quote []byte) (*QuoteV3, error) {
	if len(quote) < reportBodyOffset {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "quote shorter than header", nil)
	}

	version := binary.LittleEndian.Uint16(quote[0:2])
	if version != 3 {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "unsupported quote version", nil)
	}
	keyType := binary.LittleEndian.Uint16(quote[2:4])
	if keyType != attestationKeyTypeECDSAP256 {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "unsupported attestation key type", nil)
	}
	qeSvn := binary.LittleEndian.Uint16(quote[8:10])
	pceSvn := binary.LittleEndian.Uint16(quote[10:12])

	if len(quote) < reportBodyOffset+reportBodyLen {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "quote shorter than report body", nil)
	}
	reportBody := quote[reportBodyOffset : reportBodyOffset+reportBodyLen]

	attributes := binary.LittleEndian.Uint64(reportBody[attributesOffset : attributesOffset+8])
	debugMode := attributes&0x02 != 0

	var q QuoteV3
	q.Version = version
	q.AttestationKeyType = keyType
	q.QeSvn = qeSvn
	q.PceSvn = pceSvn
	q.DebugMode = debugMode
	copy(q.MrEnclave[:], reportBody[mrEnclaveOffset:mrEnclaveOffset+32])
	copy(q.MrSigner[:], reportBody[mrSignerOffset:mrSignerOffset+32])
	q.IsvProdID = binary.LittleEndian.Uint16(reportBody[isvProdIDOffset : isvProdIDOffset+2])
	q.IsvSvn = binary.LittleEndian.Uint16(reportBody[isvSvnOffset : isvSvnOffset+2])
	copy(q.ReportData[:], reportBody[reportDataOffset:reportDataOffset+64])

	sigOffset := reportBodyOffset + reportBodyLen
	if len(quote) < sigOffset+4 {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "quote shorter than signature length prefix", nil)
	}
	sigLen := int(binary.LittleEndian.Uint32(quote[sigOffset : sigOffset+4]))
	if len(quote) < sigOffset+4+sigLen {
		return nil, sentinelerr.WrapSub(sentinelerr.SubQuoteMalformed, "quote shorter than declared signature length", nil)
	}
	q.Signature = append([]byte{}, quote[sigOffset+4:sigOffset+4+sigLen]...)
	q.CertificationData = string(quote[sigOffset+4+sigLen:])

	return &q, nil
}
