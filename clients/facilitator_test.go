package clients

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402types "github.com/slavaghoul1337-coder/genge/types"
)

func testClaim() *x402types.PaymentClaim {
	return &x402types.PaymentClaim{
		PayerWallet: testPayer.Hex(),
		TxRef:       testTxHash,
		ItemID:      big.NewInt(42),
	}
}

func TestFacilitator_Confirms(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	f := NewFacilitatorClient(srv.URL, "secret", time.Second, nil)
	require.True(t, f.Configured())
	assert.True(t, f.Attest(context.Background(), testClaim()))

	assert.Equal(t, testTxHash, got["txHash"])
	assert.Equal(t, testPayer.Hex(), got["wallet"])
	assert.Equal(t, float64(42), got["tokenId"])
}

func TestFacilitator_NoTokenIDIsNull(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	claim := testClaim()
	claim.ItemID = nil

	f := NewFacilitatorClient(srv.URL, "secret", time.Second, nil)
	assert.False(t, f.Attest(context.Background(), claim))
	v, ok := got["tokenId"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestFacilitator_FailuresDegradeToFalse(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"success":true}`))
			},
		},
		{
			name: "malformed body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>`))
			},
		},
		{
			name: "timeout",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(200 * time.Millisecond)
				_, _ = w.Write([]byte(`{"success":true}`))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			f := NewFacilitatorClient(srv.URL, "secret", 50*time.Millisecond, nil)
			assert.False(t, f.Attest(context.Background(), testClaim()))
		})
	}
}

func TestFacilitator_Unconfigured(t *testing.T) {
	assert.False(t, NewFacilitatorClient("", "secret", 0, nil).Configured())
	assert.False(t, NewFacilitatorClient("https://facilitator.example", "", 0, nil).Configured())

	var nilClient *FacilitatorClient
	assert.False(t, nilClient.Configured())
	assert.False(t, nilClient.Attest(context.Background(), testClaim()))

	unreachable := NewFacilitatorClient("http://127.0.0.1:1", "secret", 50*time.Millisecond, nil)
	assert.False(t, unreachable.Attest(context.Background(), testClaim()))
}
