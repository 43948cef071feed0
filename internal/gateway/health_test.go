package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestHealthEndpoints(t *testing.T) {
	h := newHarness(t)
	h.chat.fn = replyWith("Hi!")
	h.send(dm("hello"))

	mux := http.NewServeMux()
	RegisterHealth(mux, h.gw, time.Now().Add(-time.Minute))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", string(body))

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var status struct {
		Status   string `json:"status"`
		Uptime   string `json:"uptime"`
		Received int64  `json:"received"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "running", status.Status)
	require.Equal(t, "1m0s", status.Uptime)
	require.EqualValues(t, 1, status.Received)

	resp2, err := http.Post(srv.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	resp2.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}
