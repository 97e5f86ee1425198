package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
host = "127.0.0.1"
port = 8080

[chains."eip155:8453"]
rpc_url = "https://mainnet.base.org"
fallback_rpc_urls = ["https://base.llamarpc.com"]
signer_private_keys = ["0xkey1", "0xkey2"]
eip1559 = true
flashblocks = true

[chains."solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"]
rpc_url = "https://api.mainnet-beta.solana.com"
signer_private_keys = ["solkey"]
`

func TestParse(t *testing.T) {
	config, err := Parse([]byte(sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", config.Host)
	assert.Equal(t, 8080, config.Port)
	assert.Equal(t, "127.0.0.1:8080", config.Addr())

	base, ok := config.Chains["eip155:8453"]
	require.True(t, ok)
	assert.Equal(t, "https://mainnet.base.org", base.RPCURL)
	assert.Len(t, base.SignerPrivateKeys, 2)
	assert.True(t, base.EIP1559)
	assert.True(t, base.Flashblocks)
	assert.Equal(t, DefaultTimeoutSeconds, base.TimeoutSeconds)
	assert.Equal(t, DefaultReceiptTimeoutSecs, base.ReceiptTimeoutSecs)
}

func TestParseDefaults(t *testing.T) {
	config, err := Parse([]byte(""))
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, config.Host)
	assert.Equal(t, DefaultPort, config.Port)
}

func TestParseEnvExpansion(t *testing.T) {
	t.Setenv("BASE_RPC_URL", "https://rpc.example.com")
	t.Setenv("SIGNER_KEY", "0xsecret")

	config, err := Parse([]byte(`
[chains."eip155:8453"]
rpc_url = "${BASE_RPC_URL}"
signer_private_keys = ["$SIGNER_KEY"]
`))
	require.NoError(t, err)

	chain := config.Chains["eip155:8453"]
	assert.Equal(t, "https://rpc.example.com", chain.RPCURL)
	assert.Equal(t, "0xsecret", chain.SignerPrivateKeys[0])
}

func TestParseUnresolvedPlaceholderStaysLiteral(t *testing.T) {
	config, err := Parse([]byte(`
[chains."eip155:8453"]
rpc_url = "${DEFINITELY_NOT_SET_RPC_URL}"
signer_private_keys = ["0xkey"]
`))
	require.NoError(t, err)

	chain := config.Chains["eip155:8453"]
	assert.Equal(t, "${DEFINITELY_NOT_SET_RPC_URL}", chain.RPCURL)
}

func TestParseHostPortOverrides(t *testing.T) {
	t.Setenv("HOST", "10.0.0.1")
	t.Setenv("PORT", "9999")

	config, err := Parse([]byte(`host = "127.0.0.1"` + "\n" + `port = 8080`))
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", config.Host)
	assert.Equal(t, 9999, config.Port)
}

func TestParseValidation(t *testing.T) {
	_, err := Parse([]byte(`
[chains."eip155:8453"]
signer_private_keys = ["0xkey"]
`))
	assert.ErrorContains(t, err, "rpc_url is required")

	_, err = Parse([]byte(`
[chains."eip155:8453"]
rpc_url = "https://mainnet.base.org"
`))
	assert.ErrorContains(t, err, "signer private key")
}

func TestParseRejectsBadTOML(t *testing.T) {
	_, err := Parse([]byte(`host = `))
	assert.Error(t, err)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("A_VALUE", "expanded")

	assert.Equal(t, "expanded", ExpandEnv("$A_VALUE"))
	assert.Equal(t, "expanded", ExpandEnv("${A_VALUE}"))
	assert.Equal(t, "pre-expanded-post", ExpandEnv("pre-${A_VALUE}-post"))
	assert.Equal(t, "no placeholders", ExpandEnv("no placeholders"))
}
