package source

import (
	"bytes"
	"compress/gzip"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const validLine = `{"anonymous_id":"u-1","device_sent_timestamp":1592608047794,` +
	`"browser_family":"Chrome","os_family":"Android","device_family":"Generic Smartphone"}`

func gzipLines(t *testing.T, lines ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(strings.Join(lines, "\n")))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	decoder, err := NewDecoder()
	require.NoError(t, err)
	return decoder
}
