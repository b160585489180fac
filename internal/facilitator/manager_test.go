package facilitator

import (
	"context"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testManagerConfig() ManagerConfig {
	return ManagerConfig{
		PrimaryType:    TypeCodeNut,
		EnableFallback: true,
		FallbackType:   TypePayAI,
		CodeNutURL:     codeNutTestURL,
		CorbitsURL:     corbitsTestURL,
		PayAIURL:       payAITestURL,
	}
}

func TestNewManager_AutoWithoutSignerKeys(t *testing.T) {
	cfg := testManagerConfig()
	cfg.PrimaryType = TypeAuto
	cfg.FallbackType = ""

	m := NewManager(cfg)
	assert.Equal(t, TypeCodeNut, m.Primary().Type())
	require.NotNil(t, m.Fallback())
	assert.Equal(t, TypePayAI, m.Fallback().Type())
}

func TestNewManager_FallbackDisabled(t *testing.T) {
	cfg := testManagerConfig()
	cfg.EnableFallback = false

	m := NewManager(cfg)
	assert.Nil(t, m.Fallback())
}

func TestNewManager_FallbackSameAsPrimaryIgnored(t *testing.T) {
	cfg := testManagerConfig()
	cfg.FallbackType = TypeCodeNut

	m := NewManager(cfg)
	assert.Nil(t, m.Fallback())
}

func TestManager_Info(t *testing.T) {
	m := NewManager(testManagerConfig())
	info := m.Info()

	assert.Equal(t, "codenut", info.Primary)
	assert.Equal(t, "codenut", info.Type)
	assert.Equal(t, "payai", info.Fallback)
	assert.True(t, info.Available)
}

func TestManager_VerifyFallsBackOnRetriableFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", codeNutTestURL+"/verify",
		httpmock.NewStringResponder(503, "down"))
	httpmock.RegisterResponder("POST", payAITestURL+"/verify",
		httpmock.NewJsonResponderOrPanic(200, payAIVerifyResponse{
			IsValid: true,
			Payer:   "Payer111",
		}))

	m := NewManager(testManagerConfig())
	res := m.Verify(context.Background(), testPayload(), testRequirements())

	assert.True(t, res.Valid)
	assert.Equal(t, "payai", res.Facilitator)
}

func TestManager_VerifyNeverFallsBackOnRejection(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", codeNutTestURL+"/verify",
		httpmock.NewJsonResponderOrPanic(200, codeNutVerifyResponse{
			IsValid:       false,
			InvalidReason: "insufficient funds",
		}))

	m := NewManager(testManagerConfig())
	res := m.Verify(context.Background(), testPayload(), testRequirements())

	assert.False(t, res.Valid)
	assert.Equal(t, "insufficient funds", res.Error)
	assert.Equal(t, "codenut", res.Facilitator)

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info["POST "+payAITestURL+"/verify"], "definitive rejection must not reach the fallback")
}

func TestManager_SettleFallsBackOnTransportFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	// No responder for codenut /settle: transport failure. PayAI settles.
	httpmock.RegisterResponder("POST", payAITestURL+"/settle",
		httpmock.NewJsonResponderOrPanic(200, payAISettleResponse{
			Success:     true,
			Transaction: "5tx",
		}))

	m := NewManager(testManagerConfig())
	res := m.Settle(context.Background(), testPayload(), testRequirements())

	assert.True(t, res.Settled)
	assert.Equal(t, "payai", res.Facilitator)
}

func TestManager_SettleNeverFallsBackAfterDefinitiveFailure(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", codeNutTestURL+"/settle",
		httpmock.NewJsonResponderOrPanic(200, codeNutSettleResponse{
			Success:     false,
			ErrorReason: "transaction reverted",
		}))

	m := NewManager(testManagerConfig())
	res := m.Settle(context.Background(), testPayload(), testRequirements())

	assert.False(t, res.Settled)
	assert.Equal(t, "transaction reverted", res.ErrorReason)

	info := httpmock.GetCallCountInfo()
	assert.Zero(t, info["POST "+payAITestURL+"/settle"], "settle must not be retried after an on-chain outcome")
}

func TestManager_ForcedSelection(t *testing.T) {
	m := NewManager(testManagerConfig())

	f, err := m.Forced(TypeCorbits)
	require.NoError(t, err)
	assert.Equal(t, TypeCorbits, f.Type())
}

func TestManager_ForcedUnavailable(t *testing.T) {
	cfg := testManagerConfig()
	cfg.CorbitsURL = ""

	m := NewManager(cfg)
	_, err := m.Forced(TypeCorbits)

	var unavailableErr ErrFacilitatorUnavailable
	require.ErrorAs(t, err, &unavailableErr)
	assert.Equal(t, TypeCorbits, unavailableErr.Type)
}

func TestManager_ForcedUnknownType(t *testing.T) {
	m := NewManager(testManagerConfig())
	_, err := m.Forced(Type("bogus"))
	assert.Error(t, err)
}

func TestManager_FeePayerFromPrimary(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", payAITestURL+"/supported",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"kinds": []SupportedKind{
				{Network: "solana", Extra: map[string]any{"feePayer": "FeePayer111"}},
			},
		}))

	cfg := testManagerConfig()
	cfg.PrimaryType = TypePayAI
	cfg.FallbackType = TypeCodeNut

	m := NewManager(cfg)
	assert.Equal(t, "FeePayer111", m.FeePayer(context.Background(), "solana"))
}

func TestManager_FeePayerEmptyForRemoteOnlyAdapters(t *testing.T) {
	m := NewManager(testManagerConfig())
	// CodeNut settles without co-signing, so no fee payer is required.
	assert.Empty(t, m.FeePayer(context.Background(), "solana"))
}
