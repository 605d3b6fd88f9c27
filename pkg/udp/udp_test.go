package udp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ccnetlab/ccnet/pkg/wire"
)

type fakeSender struct {
	sent []wire.Tag
}

func (f *fakeSender) Broadcast(_ context.Context, tag wire.Tag, _ []byte) error {
	f.sent = append(f.sent, tag)
	return nil
}

func TestChecksumFormula(t *testing.T) {
	pkt, err := NewPacket(100, 200, []byte("ping"), 0)
	require.NoError(t, err)
	want := Checksum(100, 200, pkt.Length, []byte("ping"))
	assert.Equal(t, want, pkt.Checksum)
	assert.True(t, pkt.VerifyChecksum())
}

func TestNewPacketRejectsOversizeData(t *testing.T) {
	_, err := NewPacket(1, 2, make([]byte, MaxDataLen+1), 0)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestEphemeralAllocationRange(t *testing.T) {
	m := NewManager("10.0.0.2", &fakeSender{})
	s, err := m.Socket(0, 0)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, s.Port(), uint16(EphemeralStart))
	assert.LessOrEqual(t, s.Port(), uint16(EphemeralEnd))
}

func TestSocketPortUniqueness(t *testing.T) {
	m := NewManager("10.0.0.2", &fakeSender{})
	_, err := m.Socket(12345, 0)
	require.NoError(t, err)
	_, err = m.Socket(12345, 0)
	assert.ErrorIs(t, err, ErrAddrInUse)
}

// S5: UDP echo -- client sends "ping" to (127.0.0.1, serverPort); server
// callback echoes "pong" back to the sender; client Receive returns it.
func TestUDPEcho(t *testing.T) {
	m := NewManager("127.0.0.1", &fakeSender{})
	server, err := m.Socket(12345, 0)
	require.NoError(t, err)
	server.SetCallback(func(data []byte, sourceIP string, srcPort uint16) {
		require.NoError(t, m.Send(context.Background(), server, []byte("pong"), sourceIP, srcPort, 0))
	})

	client, err := m.Socket(0, 0)
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), client, []byte("ping"), "127.0.0.1", 12345, 0))

	r, err := client.Receive(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(r.Data))
	assert.Equal(t, "127.0.0.1", r.SourceIP)
	assert.Equal(t, server.Port(), r.SrcPort)
}

// S6: buffer overflow -- bufferSize=3, no active Receive, 10 datagrams sent.
// Buffer retains exactly the first 3 in arrival order; drops are counted.
func TestUDPBufferOverflow(t *testing.T) {
	m := NewManager("127.0.0.1", &fakeSender{})
	server, err := m.Socket(9, 3)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		np := NewNetworkPacket("127.0.0.1", "127.0.0.1", mustPacket(t, uint16(20000+i), 9, []byte{byte(i)}))
		m.Dispatch(np, time.Now())
	}

	assert.Equal(t, 3, server.BufferLen())
	r0, err := server.Receive(0)
	require.NoError(t, err)
	assert.Equal(t, []byte{0}, r0.Data)
	assert.Equal(t, uint64(7), m.PacketsDropped())
}

func TestReceiveTimesOutWithinTolerance(t *testing.T) {
	m := NewManager("127.0.0.1", &fakeSender{})
	s, err := m.Socket(0, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Receive(100 * time.Millisecond)
	elapsed := time.Since(start)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.LessOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestDispatchWithNoBoundSocketCountsGlobalDrop(t *testing.T) {
	m := NewManager("127.0.0.1", &fakeSender{})
	np := NewNetworkPacket("127.0.0.1", "127.0.0.1", mustPacket(t, 1, 9999, []byte("x")))
	m.Dispatch(np, time.Now())
	assert.Equal(t, uint64(1), m.PacketsDropped())
}

func mustPacket(t *testing.T, srcPort, dstPort uint16, data []byte) *Packet {
	t.Helper()
	p, err := NewPacket(srcPort, dstPort, data, 0)
	require.NoError(t, err)
	return p
}
