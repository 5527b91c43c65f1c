package utils

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slavaghoul1337-coder/genge/types"
)

const (
	wallet = "0xAbCabcabcabcabcabcabcabcabcabcabcabcabca"
	hash   = "0xab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"
)

func TestParseClaim(t *testing.T) {
	claim, err := ParseClaim([]byte(`{"wallet":" ` + wallet + ` ","txHash":"` + hash + `","tokenId":42}`))
	require.NoError(t, err)
	assert.Equal(t, wallet, claim.PayerWallet)
	assert.Equal(t, hash, claim.TxRef)
	require.NotNil(t, claim.ItemID)
	assert.Equal(t, int64(42), claim.ItemID.Int64())
}

func TestParseClaim_TokenIDForms(t *testing.T) {
	claim, err := ParseClaim([]byte(`{"wallet":"` + wallet + `","txHash":"` + hash + `","tokenId":"115792089237316195423570985008687907853269984665640564039457584007913129639935"}`))
	require.NoError(t, err)
	assert.Equal(t, 256, claim.ItemID.BitLen())

	claim, err = ParseClaim([]byte(`{"wallet":"` + wallet + `","txHash":"` + hash + `"}`))
	require.NoError(t, err)
	assert.Nil(t, claim.ItemID)
}

func TestParseClaim_Invalid(t *testing.T) {
	tests := map[string]string{
		"not json":        `{`,
		"missing wallet":  `{"txHash":"` + hash + `"}`,
		"missing hash":    `{"wallet":"` + wallet + `"}`,
		"bad wallet":      `{"wallet":"0x123","txHash":"` + hash + `"}`,
		"short hash":      `{"wallet":"` + wallet + `","txHash":"0x1"}`,
		"fractional id":   `{"wallet":"` + wallet + `","txHash":"` + hash + `","tokenId":1.5}`,
		"negative id":     `{"wallet":"` + wallet + `","txHash":"` + hash + `","tokenId":-1}`,
		"wrong hash type": `{"wallet":"` + wallet + `","txHash":12}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseClaim([]byte(body))
			var xErr *types.X402Error
			require.ErrorAs(t, err, &xErr)
			assert.Equal(t, types.ErrInvalidPayload, xErr.Code)
		})
	}
}

func TestParseClaim_MessageNamesField(t *testing.T) {
	_, err := ParseClaim([]byte(`{"txHash":"` + hash + `"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet is required")
}

func TestValidateTransactionHash(t *testing.T) {
	assert.NoError(t, ValidateTransactionHash(hash))
	assert.Error(t, ValidateTransactionHash(""))
	assert.Error(t, ValidateTransactionHash(hash[2:]))
	assert.Error(t, ValidateTransactionHash("0x"+hash[4:]))
	assert.Error(t, ValidateTransactionHash(hash[:65]+"g"))
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, ValidateAddress(wallet))
	assert.Error(t, ValidateAddress(""))
	assert.Error(t, ValidateAddress(wallet[2:]))
	assert.Error(t, ValidateAddress("0x1234"))
}

func TestValidateAmount(t *testing.T) {
	d, err := ValidateAmount("3.00")
	require.NoError(t, err)
	assert.Equal(t, "3", d.String())

	_, err = ValidateAmount("-1")
	assert.Error(t, err)
	_, err = ValidateAmount("")
	assert.Error(t, err)
}

func TestParseTokenID(t *testing.T) {
	id, err := ParseTokenID(json.Number("7"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id.Int64())

	_, err = ParseTokenID(json.Number("1e3"))
	assert.Error(t, err)
}
