package recovery

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/protocol"
	logger_mock "github.com/muhammadchandra19/feedhandler/pkg/logger/mock"
)

func newMockLogger(t *testing.T) *logger_mock.MockInterface {
	t.Helper()
	ctrl := gomock.NewController(t)
	log := logger_mock.NewMockInterface(ctrl)
	log.EXPECT().Debug(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Info(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Warn(gomock.Any(), gomock.Any()).AnyTimes()
	log.EXPECT().Error(gomock.Any(), gomock.Any()).AnyTimes()
	return log
}

// controlServer is a minimal retransmit source: it records incoming range
// requests and can replay ticks back over the same connection.
type controlServer struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	requests [][2]uint64
}

func newControlServer(t *testing.T) *controlServer {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &controlServer{t: t, listener: listener}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *controlServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *controlServer) serve() {
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	hdr := make([]byte, protocol.HeaderSize)
	payload := make([]byte, protocol.MaxPayloadSize)
	for {
		if _, err := readFull(conn, hdr); err != nil {
			return
		}
		header, err := protocol.DecodeHeader(hdr)
		if err != nil || header.Validate() != nil {
			return
		}
		if _, err := readFull(conn, payload[:header.Length]); err != nil {
			return
		}
		if header.Type == protocol.MessageTypeRetransmitRequest {
			start, end, err := protocol.DecodeRetransmitRequestPayload(payload[:header.Length])
			if err != nil {
				return
			}
			s.mu.Lock()
			s.requests = append(s.requests, [2]uint64{start, end})
			s.mu.Unlock()
		}
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (s *controlServer) requestedRanges() [][2]uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][2]uint64, len(s.requests))
	copy(out, s.requests)
	return out
}

func (s *controlServer) sendTick(seq uint64) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	frame := protocol.EncodeTick(seq, marketdatav1.Tick{Timestamp: seq, Symbol: "AAPL", Price: 100, Volume: 1})
	_, _ = conn.Write(frame)
}

func startSidecar(t *testing.T, server *controlServer, callback TickCallback) (*Sidecar, *net.UDPConn, func(seq uint64)) {
	t.Helper()

	sidecar := NewSidecar(Config{
		ListenPort:          0,
		ControlHost:         "127.0.0.1",
		ControlPort:         server.port(),
		RetransmitInterval:  50 * time.Millisecond,
		MaxRequestsPerCycle: 5,
		FinalDrainTimeout:   200 * time.Millisecond,
	}, newMockLogger(t))
	if callback != nil {
		sidecar.SetTickCallback(callback)
	}
	require.NoError(t, sidecar.Start())

	sender, err := net.DialUDP("udp4", nil, sidecar.UDPAddr().(*net.UDPAddr))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sender.Close() })

	sendTick := func(seq uint64) {
		frame := protocol.EncodeTick(seq, marketdatav1.Tick{Timestamp: seq, Symbol: "AAPL", Price: 100, Volume: 1})
		_, err := sender.Write(frame)
		require.NoError(t, err)
	}
	return sidecar, sender, sendTick
}

func TestSidecar_InOrderFeed(t *testing.T) {
	server := newControlServer(t)

	var mu sync.Mutex
	var seqs []uint64
	sidecar, _, sendTick := startSidecar(t, server, func(tick marketdatav1.TimedTick) {
		mu.Lock()
		defer mu.Unlock()
		seqs = append(seqs, tick.Sequence)
	})

	for seq := uint64(1); seq <= 5; seq++ {
		sendTick(seq)
	}

	require.Eventually(t, func() bool {
		return sidecar.Stats().Received == 5
	}, 2*time.Second, 10*time.Millisecond)

	sidecar.Stop()

	stats := sidecar.Stats()
	assert.Equal(t, uint64(5), stats.Received)
	assert.Zero(t, stats.GapsDetected)
	assert.Zero(t, stats.RequestsSent)
	assert.Equal(t, 5, stats.Latency.Count)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seqs)
}

// Dropped sequences trigger a coalesced retransmit request on the control
// channel, and replayed ticks fill the gap.
func TestSidecar_GapRecovery(t *testing.T) {
	server := newControlServer(t)
	sidecar, _, sendTick := startSidecar(t, server, nil)

	sendTick(1)
	sendTick(2)
	sendTick(5) // 3 and 4 lost

	require.Eventually(t, func() bool {
		ranges := server.requestedRanges()
		return len(ranges) > 0
	}, 2*time.Second, 10*time.Millisecond, "expected a retransmit request")

	ranges := server.requestedRanges()
	require.NotEmpty(t, ranges)
	assert.Equal(t, [2]uint64{3, 4}, ranges[0])

	// replay the missing ticks over the control channel
	server.sendTick(3)
	server.sendTick(4)

	require.Eventually(t, func() bool {
		return sidecar.Stats().GapsFilled == 2
	}, 2*time.Second, 10*time.Millisecond)

	sidecar.Stop()

	stats := sidecar.Stats()
	assert.Equal(t, uint64(2), stats.GapsDetected)
	assert.Equal(t, uint64(2), stats.GapsFilled)
	assert.Zero(t, stats.UnrecoveredGaps)
	assert.GreaterOrEqual(t, stats.RequestsSent, uint64(1))
}

func TestSidecar_DuplicatesCounted(t *testing.T) {
	server := newControlServer(t)
	sidecar, _, sendTick := startSidecar(t, server, nil)

	sendTick(1)
	sendTick(2)
	sendTick(2)

	require.Eventually(t, func() bool {
		return sidecar.Stats().Duplicates == 1
	}, 2*time.Second, 10*time.Millisecond)

	sidecar.Stop()
	assert.Equal(t, uint64(2), sidecar.Stats().Received)
}

// Non-TICK frames on the UDP socket are ignored without affecting sequence
// tracking.
func TestSidecar_IgnoresNonTickUDP(t *testing.T) {
	server := newControlServer(t)
	sidecar, sender, sendTick := startSidecar(t, server, nil)

	sendTick(1)
	_, err := sender.Write(protocol.EncodeHeartbeat(2, 99))
	require.NoError(t, err)
	sendTick(2)

	require.Eventually(t, func() bool {
		return sidecar.Stats().Received == 2
	}, 2*time.Second, 10*time.Millisecond)

	sidecar.Stop()

	stats := sidecar.Stats()
	assert.Equal(t, uint64(2), stats.Received)
	assert.Zero(t, stats.GapsDetected)
	assert.Zero(t, stats.Duplicates)
}
