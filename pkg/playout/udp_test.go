package playout

import (
	"bytes"
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/channel-io/go-jitter/pkg/jitter"
)

func TestUDPSource(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()

	sender, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer sender.Close()

	source := NewUDPSource(conn, 50*time.Millisecond, quietLogger())
	ctx := context.Background()

	_, err = source.ReadPacket(ctx)
	require.ErrorIs(t, err, ErrNoData)

	raw, err := packet(7).Marshal()
	require.NoError(t, err)
	_, err = sender.Write(raw)
	require.NoError(t, err)

	pkt, err := source.ReadPacket(ctx)
	require.NoError(t, err)
	require.Equal(t, uint16(7), pkt.SequenceNumber)
	require.Equal(t, uint32(7*160), pkt.Timestamp)
	require.Equal(t, []byte{7}, pkt.Payload)

	// too short for an rtp header
	_, err = sender.Write([]byte{0x80})
	require.NoError(t, err)
	_, err = source.ReadPacket(ctx)
	require.ErrorIs(t, err, ErrNoData)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = source.ReadPacket(cancelled)
	require.ErrorIs(t, err, context.Canceled)

	conn.Close()
	_, err = source.ReadPacket(ctx)
	require.True(t, errors.Is(err, context.Canceled))
}

func TestWriterSink(t *testing.T) {
	var out bytes.Buffer
	sink := NewWriterSink(&out)

	require.NoError(t, sink.WriteFrame(jitter.Frame{Payload: []byte{1, 2}}))
	require.NoError(t, sink.WriteSilence(3))
	require.NoError(t, sink.WriteSilence(2))

	require.Equal(t, []byte{1, 2, 0, 0, 0, 0, 0}, out.Bytes())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playout.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: "127.0.0.1:6000"
read_timeout_ms: 50
jitter:
  min_delay_ms: 40
  max_delay_ms: 400
  clock_rate: 48
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6000", cfg.Listen)
	require.Equal(t, "-", cfg.Output)
	require.Equal(t, 50*time.Millisecond, cfg.ReadTimeout())

	jc := cfg.JitterConfig()
	require.Equal(t, 40*time.Millisecond, jc.MinDelay)
	require.Equal(t, 400*time.Millisecond, jc.MaxDelay)
	require.Equal(t, uint32(48), jc.ClockRate)
	require.Equal(t, 20*time.Millisecond, jc.FrameDuration)
	require.Equal(t, 20, jc.Capacity())
	require.Equal(t, uint32(960), cfg.FrameTicks())
}

func TestLoadConfigRejectsBadDelays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "playout.yaml")
	require.NoError(t, os.WriteFile(path, []byte("jitter:\n  min_delay_ms: 100\n  max_delay_ms: 50\n"), 0o600))

	_, err := LoadConfig(path)
	require.ErrorIs(t, err, jitter.ErrInvalidConfig)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
