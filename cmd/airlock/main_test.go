package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Dispatch(t *testing.T) {
	serverCalls := 0
	orig := startServer
	startServer = func() int { serverCalls++; return 0 }
	defer func() { startServer = orig }()

	var out, errOut bytes.Buffer

	assert.Equal(t, 0, Run([]string{"airlock"}, &out, &errOut))
	assert.Equal(t, 0, Run([]string{"airlock", "server"}, &out, &errOut))
	assert.Equal(t, 2, serverCalls)

	out.Reset()
	assert.Equal(t, 0, Run([]string{"airlock", "version"}, &out, &errOut))
	assert.Contains(t, out.String(), version)

	out.Reset()
	assert.Equal(t, 0, Run([]string{"airlock", "help"}, &out, &errOut))
	assert.Contains(t, out.String(), "USAGE")
	assert.Contains(t, out.String(), "sweep")

	errOut.Reset()
	assert.Equal(t, 2, Run([]string{"airlock", "launch"}, &out, &errOut))
	assert.Contains(t, errOut.String(), "Unknown command")
}

func TestWebhookExecutor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		switch {
		case strings.Contains(r.URL.Path, "fail"):
			_, _ = w.Write([]byte(`{"success":false,"result_note":"backend rejected it"}`))
		default:
			_, _ = w.Write([]byte(`{"success":true,"result_note":"declaration filed"}`))
		}
	}))
	defer srv.Close()

	exec := newWebhookExecutor(srv.URL, 0)
	note, err := exec.Execute(context.Background(), "create_declaration", map[string]any{"ref": "D-1"})
	require.NoError(t, err)
	assert.Equal(t, "declaration filed", note)

	exec = newWebhookExecutor(srv.URL+"/fail", 0)
	_, err = exec.Execute(context.Background(), "create_declaration", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend rejected it")
}

func TestWebhookExecutor_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := newWebhookExecutor(srv.URL, 0)
	_, err := exec.Execute(context.Background(), "send_email", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}
