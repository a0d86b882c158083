package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/hypebeast/go-osc/osc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestValidateCommand(t *testing.T) {
	good := writeConfig(t, `
relays:
  - id: desk
    listen_port: 9000
    mappings:
      - input: /fader/*
        output: /mixer/level
        dest_port: 9001
`)
	out, err := run(t, "validate", "--config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok: 1 relays, 1 mappings")

	bad := writeConfig(t, `
relays:
  - id: desk
    mappings:
      - input: /fader/[abc
        output: /mixer/level
        dest_port: 9001
`)
	_, err = run(t, "validate", "--config", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mappings[0].input")
}

func TestSendCommand(t *testing.T) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer conn.Close()
	port := conn.LocalAddr().(*net.UDPAddr).Port

	out, err := run(t, "send", "--port", strconv.Itoa(port), "--topic", "/ping", "--value", "0.25")
	require.NoError(t, err)
	assert.Contains(t, out, "[Test] 127.0.0.1:"+strconv.Itoa(port)+" @ /ping = 0.25")

	buf := make([]byte, 65535)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, _, err := conn.ReadFromUDP(buf)
	require.NoError(t, err)
	pkt, err := osc.ParsePacket(string(buf[:n]))
	require.NoError(t, err)
	msg, ok := pkt.(*osc.Message)
	require.True(t, ok)
	assert.Equal(t, "/ping", msg.Address)
	assert.Equal(t, float32(0.25), msg.Arguments[0])
}

func TestSendCommandRejectsBadTopic(t *testing.T) {
	_, err := run(t, "send", "--port", "9000", "--topic", "ping")
	require.Error(t, err)
}
