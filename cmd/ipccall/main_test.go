package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/guseggert/stdipc/bridge"
	"github.com/guseggert/stdipc/internal/net"
	"github.com/guseggert/stdipc/ipc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func TestParseArg(t *testing.T) {
	arg, err := parseArg("")
	require.NoError(t, err)
	assert.Equal(t, ipc.Object{}, arg)

	arg, err = parseArg(`{"a": [1, "b"]}`)
	require.NoError(t, err)
	assert.Equal(t, ipc.Object{"a": []any{1.0, "b"}}, arg)

	for _, bad := range []string{"null", "[1]", `"str"`, "{"} {
		_, err := parseArg(bad)
		assert.Error(t, err, bad)
	}
}

func startBridge(t *testing.T) string {
	t.Helper()
	addr, err := net.FreeLoopbackAddr()
	require.NoError(t, err)

	reg := ipc.NewRegistry()
	reg.RegisterFunc("greet", func(ctx context.Context, in ipc.Object) (ipc.Object, error) {
		name, _ := in["name"].(string)
		return ipc.Object{"greeting": "hello " + name}, nil
	})
	server := bridge.NewServer(reg, bridge.WithListenAddr(addr), bridge.WithInterval(time.Millisecond))
	runErr := make(chan error, 1)
	go func() { runErr <- server.Run() }()
	t.Cleanup(func() {
		require.NoError(t, server.Stop())
		require.NoError(t, <-runErr)
	})
	return "http://" + addr
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	stdout := &bytes.Buffer{}
	app := newApp(stdout)
	app.ExitErrHandler = func(c *cli.Context, err error) {}
	err := app.Run(append([]string{"ipccall"}, args...))
	return stdout.String(), err
}

func TestCallOverBridge(t *testing.T) {
	u := startBridge(t)
	out, err := runApp(t, "--bridge", u, "greet", `{"name": "ann"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"greeting": "hello ann"}`, out)
}

func TestCallFailure(t *testing.T) {
	u := startBridge(t)
	out, err := runApp(t, "--bridge", u, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No handler: missing")
	assert.Empty(t, out)
}

func TestUsageErrors(t *testing.T) {
	_, err := runApp(t)
	assert.Error(t, err)
	_, err = runApp(t, "op", "[]")
	assert.Error(t, err)
	_, err = runApp(t, "op", "{}", "extra")
	assert.Error(t, err)
}

func TestMissingWorker(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := runApp(t, "ping")
	assert.ErrorContains(t, err, "finding worker")
}
