package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveSessionRequiresBothCompartments(t *testing.T) {
	record := &DurableRecord{Address: "0xAbc", ChainID: 1, AccountMode: ModeLive}

	// Address without token: display only, no authorization.
	session, display := DeriveSession(record, "")
	assert.Nil(t, session)
	assert.Equal(t, "0xAbc", display)

	// Token without address: nothing.
	session, display = DeriveSession(&DurableRecord{}, "tok")
	assert.Nil(t, session)
	assert.Empty(t, display)

	// Nothing at all.
	session, display = DeriveSession(nil, "")
	assert.Nil(t, session)
	assert.Empty(t, display)
}

func TestDeriveSessionComplete(t *testing.T) {
	record := &DurableRecord{Address: "0xAbc", ChainID: 137, AccountMode: ModeDemo}

	session, display := DeriveSession(record, "tok")
	require.NotNil(t, session)
	assert.Equal(t, "0xAbc", display)
	assert.Equal(t, "0xAbc", session.Address)
	assert.Equal(t, uint64(137), session.ChainID)
	assert.Equal(t, ModeDemo, session.AccountMode)
	assert.True(t, session.IsConnected)
}

func TestEnvelopeRoundTripPreservesRequestID(t *testing.T) {
	env, err := NewEnvelope(TagWalletSign, "req-42", WalletSignRequest{Address: "0xAbc", Message: "hello"})
	require.NoError(t, err)

	raw, err := env.Encode()
	require.NoError(t, err)

	decoded, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, TagWalletSign, decoded.Type)
	assert.Equal(t, "req-42", decoded.RequestID)

	var payload WalletSignRequest
	require.NoError(t, decoded.Decode(&payload))
	assert.Equal(t, "hello", payload.Message)
}

func TestInternalTagsFiltered(t *testing.T) {
	assert.True(t, TagWalletRequest.IsInternal())
	assert.True(t, TagPing.IsInternal())
	assert.False(t, TagOpenAuth.IsInternal())
	assert.False(t, IsPageRequest(TagWalletRequest))
	assert.True(t, IsPageRequest(TagOpenAuth))
}

func TestErrorPayloadConversion(t *testing.T) {
	err := WrapError(CodeSigningFailed, "wallet refused to sign", assert.AnError)
	p := ErrorPayloadFor(err, TagWalletSign, "req-7")
	assert.Equal(t, CodeSigningFailed, p.Code)
	assert.Equal(t, "wallet refused to sign", p.Message)
	assert.Equal(t, TagWalletSign, p.OriginalType)
	assert.Equal(t, "req-7", p.RequestID)

	// Uncoded errors fall back to UNKNOWN.
	p = ErrorPayloadFor(assert.AnError, TagOpenAuth, "req-8")
	assert.Equal(t, CodeUnknown, p.Code)
}
