package attestation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	tag string
}

func (f *fakeAdapter) VendorTag() string { return f.tag }
func (f *fakeAdapter) VerifyQuote(ctx context.Context, quote, nonce []byte) (Result, error) {
	return Result{VendorTag: f.tag, QuoteVerified: true}, nil
}
func (f *fakeAdapter) CheckRevocation(ctx context.Context, measurement []byte) (RevocationStatus, error) {
	return RevocationOK, nil
}
func (f *fakeAdapter) RootCACerts() []string       { return nil }
func (f *fakeAdapter) RefreshTrustAnchors(ctx context.Context) error { return nil }

func TestRegistryDispatchesByVendorTag(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&fakeAdapter{tag: "intel-sgx"})
	reg.Register(&fakeAdapter{tag: "aws-nitro"})

	result, err := reg.VerifyQuote(context.Background(), "intel-sgx", []byte("quote"), nil)
	require.NoError(t, err)
	require.Equal(t, "intel-sgx", result.VendorTag)

	require.ElementsMatch(t, []string{"intel-sgx", "aws-nitro"}, reg.Vendors())
}

func TestRegistryUnknownVendorTag(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.VerifyQuote(context.Background(), "arm-trustzone", nil, nil)
	require.Error(t, err)
}
