package flagenv

import (
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestFlagEnv_Name(t *testing.T) {
	t.Parallel()
	require.Equal(t, "POSTGRES_HOST", Name("postgres-host"))
	require.Equal(t, "VERBOSE", Name("verbose"))
}

func TestFlagEnv_Apply(t *testing.T) {
	t.Setenv("MAX_DATE", "7")
	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("WHITELIST", "0xa1,0xb2")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	maxDate := fs.Int("max-date", 14, "")
	listen := fs.String("listen-addr", "0.0.0.0:8080", "")
	whitelist := fs.StringSlice("whitelist", nil, "")
	require.NoError(t, fs.Parse([]string{"--listen-addr=127.0.0.1:8081"}))
	require.NoError(t, Apply(fs))

	require.Equal(t, 7, *maxDate)
	require.Equal(t, "127.0.0.1:8081", *listen)
	require.Equal(t, []string{"0xa1", "0xb2"}, *whitelist)
}

func TestFlagEnv_ApplyInvalidValue(t *testing.T) {
	t.Setenv("MAX_DATE", "soon")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Int("max-date", 14, "")
	require.NoError(t, fs.Parse(nil))
	require.ErrorContains(t, Apply(fs), "MAX_DATE")
}
