package facilitator

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tollgate/internal/x402"
)

const payAITestURL = "https://facilitator.payai.test"

func TestPayAI_VerifyEncodesPaymentHeader(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", payAITestURL+"/verify",
		func(req *http.Request) (*http.Response, error) {
			var body payAIRequest
			require.NoError(t, json.NewDecoder(req.Body).Decode(&body))

			raw, err := base64.StdEncoding.DecodeString(body.PaymentHeader)
			require.NoError(t, err)
			var decoded x402.PaymentPayload
			require.NoError(t, json.Unmarshal(raw, &decoded))
			assert.Equal(t, "solana", decoded.Network)

			return httpmock.NewJsonResponse(200, payAIVerifyResponse{
				IsValid: true,
				Payer:   "Payer111",
			})
		})

	p := NewPayAI(payAITestURL)
	res := p.Verify(context.Background(), testPayload(), testRequirements())

	assert.True(t, res.Valid)
	assert.Equal(t, "Payer111", res.Payer)
	assert.Equal(t, "payai", res.Facilitator)
}

func TestPayAI_VerifyInvalidUsesErrorField(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", payAITestURL+"/verify",
		httpmock.NewJsonResponderOrPanic(200, payAIVerifyResponse{
			IsValid: false,
			Error:   "nonce already used",
		}))

	p := NewPayAI(payAITestURL)
	res := p.Verify(context.Background(), testPayload(), testRequirements())

	assert.False(t, res.Valid)
	assert.Equal(t, "nonce already used", res.Error)
}

func TestPayAI_SettleSuccess(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("POST", payAITestURL+"/settle",
		httpmock.NewJsonResponderOrPanic(200, payAISettleResponse{
			Success:     true,
			Transaction: "5payaiTx",
			Payer:       "Payer111",
		}))

	p := NewPayAI(payAITestURL)
	res := p.Settle(context.Background(), testPayload(), testRequirements())

	assert.True(t, res.Settled)
	assert.Equal(t, "5payaiTx", res.TxHash)
}

func TestPayAI_FeePayerDiscoveryAndCache(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", payAITestURL+"/supported",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"kinds": []SupportedKind{
				{
					X402Version: 1,
					Scheme:      "exact",
					Network:     "solana",
					Extra:       map[string]any{"feePayer": "FeePayer111"},
				},
			},
		}))

	p := NewPayAI(payAITestURL)

	fp := p.FeePayer(context.Background(), "solana")
	assert.Equal(t, "FeePayer111", fp)

	// Second lookup is served from cache
	fp = p.FeePayer(context.Background(), "solana")
	assert.Equal(t, "FeePayer111", fp)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
}

func TestPayAI_FeePayerUnadvertised(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	httpmock.RegisterResponder("GET", payAITestURL+"/supported",
		httpmock.NewJsonResponderOrPanic(200, map[string]any{
			"kinds": []SupportedKind{
				{X402Version: 1, Scheme: "exact", Network: "solana"},
			},
		}))

	p := NewPayAI(payAITestURL)
	assert.Empty(t, p.FeePayer(context.Background(), "solana"))
}

func TestPayAI_Available(t *testing.T) {
	assert.True(t, NewPayAI(payAITestURL).Available())
	assert.False(t, NewPayAI("").Available())
}
