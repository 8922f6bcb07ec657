package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/openwire"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func encodeFrame(t *testing.T, cmd openwire.DataStructure, loose, sizePrefix bool) string {
	t.Helper()
	wf := openwire.NewWireFormat(
		openwire.WithTightEncoding(!loose),
		openwire.WithSizePrefixDisabled(!sizePrefix),
		openwire.WithCache(0),
	)
	require.NoError(t, wf.Renegotiate(wf.PreferredWireFormatInfo()))
	frame, err := wf.Marshal(cmd)
	require.NoError(t, err)
	return hex.EncodeToString(frame)
}

func TestVersionCmd(t *testing.T) {
	out, err := runCmd(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "openwire "+Version)
}

func TestDecodeCmd(t *testing.T) {
	tests := []struct {
		name       string
		loose      bool
		sizePrefix bool
		flags      []string
	}{
		{name: "tight"},
		{name: "loose", loose: true, flags: []string{"--loose"}},
		{name: "size prefix", sizePrefix: true, flags: []string{"--size-prefix"}},
		{name: "loose with size prefix", loose: true, sizePrefix: true, flags: []string{"--loose", "--size-prefix"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := encodeFrame(t, &openwire.ConnectionInfo{
				ConnectionID: openwire.NewConnectionID("ID:probe-1"),
				ClientID:     "inventory",
			}, tt.loose, tt.sizePrefix)

			args := append([]string{"decode"}, tt.flags...)
			out, err := runCmd(t, append(args, frame)...)
			require.NoError(t, err)
			assert.Contains(t, out, "ConnectionInfo")
			assert.Contains(t, out, "inventory")
			assert.Contains(t, out, "ID:probe-1")
		})
	}
}

func TestDecodeFrame(t *testing.T) {
	t.Run("separators are ignored", func(t *testing.T) {
		frame := encodeFrame(t, &openwire.ShutdownInfo{}, false, false)
		var spaced bytes.Buffer
		for i := 0; i < len(frame); i += 2 {
			if i > 0 {
				spaced.WriteString(": ")
			}
			spaced.WriteString(frame[i : i+2])
		}

		ds, err := decodeFrame(spaced.String(), openwire.MaxSupportedVersion, false, false)
		require.NoError(t, err)
		assert.IsType(t, &openwire.ShutdownInfo{}, ds)
	})

	t.Run("null frame", func(t *testing.T) {
		ds, err := decodeFrame("00", openwire.MaxSupportedVersion, false, false)
		require.NoError(t, err)
		assert.Nil(t, ds)
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := decodeFrame("zz", openwire.MaxSupportedVersion, false, false)
		assert.ErrorContains(t, err, "invalid hex")
	})

	t.Run("truncated", func(t *testing.T) {
		frame := encodeFrame(t, &openwire.ConnectionInfo{ClientID: "inventory"}, false, false)
		_, err := decodeFrame(frame[:len(frame)-4], openwire.MaxSupportedVersion, false, false)
		assert.Error(t, err)
	})
}

func TestDecodeCmdArgs(t *testing.T) {
	_, err := runCmd(t, "decode")
	assert.Error(t, err)
}

func TestProbeCmdWithoutBroker(t *testing.T) {
	_, err := runCmd(t, "probe", "--url", "mock://broker", "--timeout", "100ms")
	assert.ErrorContains(t, err, "broker info")
}

func TestProbeCmdInvalidLogLevel(t *testing.T) {
	_, err := runCmd(t, "probe", "--url", "mock://broker", "--log-level", "loud")
	assert.ErrorContains(t, err, "unknown log level")
}

func TestMetricsFlag(t *testing.T) {
	out, err := runCmd(t, "probe", "--url", "mock://broker", "--timeout", "100ms", "--metrics")
	assert.ErrorContains(t, err, "broker info")
	assert.Contains(t, out, openwire.MetricRequestLatency)
	assert.Contains(t, out, openwire.MetricPendingRequests)

	out, err = runCmd(t, "probe", "--url", "mock://broker", "--timeout", "100ms", "--metrics=false")
	assert.Error(t, err)
	assert.NotContains(t, out, openwire.MetricPendingRequests)
}
