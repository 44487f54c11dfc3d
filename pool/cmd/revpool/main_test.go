package main

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestRevPool_Cmd_ParseAddresses(t *testing.T) {
	t.Parallel()

	addrs, err := parseAddresses([]string{" 0x00000000000000000000000000000000000000a1", "", "0x00000000000000000000000000000000000000b2"})
	require.NoError(t, err)
	require.Equal(t, []common.Address{
		common.HexToAddress("0xa1"),
		common.HexToAddress("0xb2"),
	}, addrs)

	_, err = parseAddresses([]string{"alice"})
	require.Error(t, err)

	require.Equal(t, common.Address{}, optionalAddress(""))
}
