package restyutil

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
)

type memoryOutput struct {
	mu       sync.Mutex
	messages map[string]string
}

func (m *memoryOutput) Write(id, contents string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.messages == nil {
		m.messages = map[string]string{}
	}
	m.messages[id] = contents
}

func TestInstrumentClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "__cf_bm", Value: "secret"})
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<table><tr><td>19.11.2025</td></tr></table>"))
	}))
	defer srv.Close()

	out := &memoryOutput{}
	client := resty.New()
	InstrumentClient(client, nil, out)

	_, err := client.R().SetHeader("Cookie", "session=abc").Get(srv.URL + "/historical-data")
	require.NoError(t, err)
	_, err = client.R().Get(srv.URL + "/historical-data")
	require.NoError(t, err)

	require.Len(t, out.messages, 2)
	first := out.messages["0001"]
	require.Contains(t, first, "# attempt 1")
	require.Contains(t, first, "> GET "+srv.URL+"/historical-data")
	require.Contains(t, first, "Cookie: <redacted>")
	require.Contains(t, first, "Set-Cookie: <redacted>")
	require.NotContains(t, first, "secret")
	require.NotContains(t, first, "session=abc")
	require.Contains(t, first, "< 200 OK")
	require.Contains(t, first, "<td>19.11.2025</td>")
	require.Contains(t, out.messages, "0002")
}

func TestFilesystemOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "dump")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.http"), []byte("old"), 0600))

	out, err := NewFilesystemOutput(dir)
	require.NoError(t, err)
	require.Equal(t, dir, out.Dir())
	_, err = os.Stat(filepath.Join(dir, "stale.http"))
	require.ErrorIs(t, err, os.ErrNotExist)

	out.Write("0001", "exchange")
	contents, err := os.ReadFile(filepath.Join(dir, "0001.http"))
	require.NoError(t, err)
	require.Equal(t, "exchange", string(contents))
}
