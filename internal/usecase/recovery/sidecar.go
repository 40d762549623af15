// Package recovery implements the UDP sidecar: it receives best-effort TICK
// frames on a UDP socket, tracks missing sequences, and requests
// retransmission over a reliable TCP control channel.
package recovery

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muhammadchandra19/feedhandler/internal/buffer"
	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/protocol"
	"github.com/muhammadchandra19/feedhandler/internal/sequence"
	"github.com/muhammadchandra19/feedhandler/pkg/errors"
	"github.com/muhammadchandra19/feedhandler/pkg/latency"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// Config holds the sidecar tunables.
type Config struct {
	ListenPort  int
	ControlHost string
	ControlPort int
	// RetransmitInterval is how often the missing set is scanned.
	RetransmitInterval time.Duration
	// MaxRequestsPerCycle bounds control traffic per scan.
	MaxRequestsPerCycle int
	RecvBufferBytes     int
	// FinalDrainTimeout is how long the final retransmit pass waits for
	// responses before loss is declared unrecoverable.
	FinalDrainTimeout time.Duration
}

// Stats is the sidecar's report.
type Stats struct {
	Received        uint64          `json:"received"`
	GapsDetected    uint64          `json:"gaps_detected"`
	GapsFilled      uint64          `json:"gaps_filled"`
	Duplicates      uint64          `json:"duplicates"`
	RequestsSent    uint64          `json:"retransmit_requests_sent"`
	UnrecoveredGaps int             `json:"unrecovered_gaps"`
	Latency         latency.Summary `json:"recv_to_processed"`
}

// TickCallback receives every accepted tick (live or retransmitted) on the
// sidecar goroutine.
type TickCallback func(marketdatav1.TimedTick)

// Sidecar couples the gap tracker with the UDP feed and its control channel.
type Sidecar struct {
	cfg Config
	log logger.Interface

	udp     *net.UDPConn
	control net.Conn

	gapsMu      sync.Mutex // the tracker is single-threaded; Stats reads cross goroutines
	gaps        *sequence.GapTracker
	controlRing *buffer.Ring
	callback    TickCallback

	clientSeq uint64
	epoch     time.Time

	stop atomic.Bool
	done chan struct{}

	received     atomic.Uint64
	filled       atomic.Uint64
	duplicates   atomic.Uint64
	requestsSent atomic.Uint64

	lat *latency.Stats // sidecar-goroutine-owned
}

// NewSidecar creates an unstarted sidecar.
func NewSidecar(cfg Config, log logger.Interface) *Sidecar {
	if cfg.RetransmitInterval <= 0 {
		cfg.RetransmitInterval = time.Second
	}
	if cfg.MaxRequestsPerCycle <= 0 {
		cfg.MaxRequestsPerCycle = 5
	}
	if cfg.FinalDrainTimeout <= 0 {
		cfg.FinalDrainTimeout = 2 * time.Second
	}

	return &Sidecar{
		cfg:         cfg,
		log:         log,
		gaps:        sequence.NewGapTracker(),
		controlRing: buffer.NewRing(buffer.DefaultCapacity),
		done:        make(chan struct{}),
		epoch:       time.Now(),
		lat:         latency.NewStats(1 << 16),
	}
}

// SetTickCallback registers fn for every accepted tick. Must be called
// before Start.
func (s *Sidecar) SetTickCallback(fn TickCallback) {
	s.callback = fn
}

func (s *Sidecar) nowNs() uint64 {
	return uint64(time.Since(s.epoch))
}

// Start binds the UDP socket, dials the control channel, and launches the
// receive loop.
func (s *Sidecar) Start() error {
	udpAddr := &net.UDPAddr{Port: s.cfg.ListenPort}
	udp, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return errors.NewTracerWithCode("udp bind failed", errors.ConnectError).Wrap(err)
	}
	if s.cfg.RecvBufferBytes > 0 {
		_ = udp.SetReadBuffer(s.cfg.RecvBufferBytes)
	}
	s.udp = udp

	controlAddr := fmt.Sprintf("%s:%d", s.cfg.ControlHost, s.cfg.ControlPort)
	control, err := net.DialTimeout("tcp", controlAddr, 5*time.Second)
	if err != nil {
		_ = udp.Close()
		return errors.NewTracerWithCode("control channel dial failed", errors.ConnectError).Wrap(err)
	}
	if tc, ok := control.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	s.control = control

	s.log.Info("udp sidecar started",
		logger.Field{Key: "udp_port", Value: s.cfg.ListenPort},
		logger.Field{Key: "control", Value: controlAddr},
	)

	go s.run()
	return nil
}

// Stop runs the final retransmit pass, closes both sockets, and waits for
// the receive loop.
func (s *Sidecar) Stop() {
	if s.stop.Swap(true) {
		return
	}
	<-s.done

	if unrecovered := s.activeGaps(); unrecovered > 0 {
		s.log.Warn("unrecoverable loss",
			logger.Field{Key: "missing", Value: unrecovered},
		)
	}

	_ = s.udp.Close()
	_ = s.control.Close()
}

// UDPAddr returns the bound UDP address; useful when the configured port is
// zero and the kernel picked one.
func (s *Sidecar) UDPAddr() net.Addr {
	if s.udp == nil {
		return nil
	}
	return s.udp.LocalAddr()
}

// Stats reports counters; the latency summary is valid once stopped.
func (s *Sidecar) Stats() Stats {
	st := Stats{
		Received:        s.received.Load(),
		GapsDetected:    s.totalGaps(),
		GapsFilled:      s.filled.Load(),
		Duplicates:      s.duplicates.Load(),
		RequestsSent:    s.requestsSent.Load(),
		UnrecoveredGaps: s.activeGaps(),
	}
	select {
	case <-s.done:
		st.Latency = s.lat.Summarize()
	default:
	}
	return st
}

func (s *Sidecar) run() {
	defer close(s.done)

	lastScan := time.Now()
	for !s.stop.Load() {
		s.receiveUDP()

		if time.Since(lastScan) >= s.cfg.RetransmitInterval {
			s.requestRetransmits()
			lastScan = time.Now()
		}

		s.receiveControl()
	}

	// Final pass: one more request cycle, then drain responses until the
	// missing set empties or the window closes.
	s.requestRetransmits()
	deadline := time.Now().Add(s.cfg.FinalDrainTimeout)
	for time.Now().Before(deadline) && s.activeGaps() > 0 {
		s.receiveControl()
	}
}

// receiveUDP drains every datagram currently queued on the socket. Each
// datagram carries exactly one frame; frames whose type is not TICK are
// silently ignored.
func (s *Sidecar) receiveUDP() {
	var pkt [2048]byte

	for {
		_ = s.udp.SetReadDeadline(time.Now().Add(time.Millisecond))
		n, _, err := s.udp.ReadFromUDP(pkt[:])
		recvNs := s.nowNs()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return
			}
			if !s.stop.Load() {
				s.log.Error(errors.NewTracerWithCode("udp read failed", errors.TransportError).Wrap(err))
			}
			return
		}

		if n < protocol.HeaderSize {
			continue
		}
		header, err := protocol.DecodeHeader(pkt[:protocol.HeaderSize])
		if err != nil || header.Type != protocol.MessageTypeTick {
			continue
		}
		if int(header.Length) != protocol.TickPayloadSize || n < protocol.HeaderSize+protocol.TickPayloadSize {
			continue
		}

		tick, err := protocol.DecodeTickPayload(pkt[protocol.HeaderSize : protocol.HeaderSize+protocol.TickPayloadSize])
		if err != nil {
			continue
		}

		s.processTick(header.Sequence, tick, recvNs)
	}
}

// receiveControl drains bytes from the control channel and processes every
// complete frame: retransmitted ticks fill gaps, heartbeats are ignored.
func (s *Sidecar) receiveControl() {
	region := s.controlRing.WritableRegion()
	if len(region) == 0 {
		s.log.Error(errors.NewTracerWithCode("control reassembly buffer full", errors.ReassemblyOverflowError))
		s.stop.Store(true)
		return
	}

	_ = s.control.SetReadDeadline(time.Now().Add(time.Millisecond))
	n, err := s.control.Read(region)
	recvNs := s.nowNs()
	if n > 0 {
		s.controlRing.CommitWrite(n)
		s.drainControlFrames(recvNs)
	}
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return
		}
		if s.stop.Load() {
			return
		}
		if err == io.EOF {
			s.log.Info("control channel closed by remote")
		} else {
			s.log.Error(errors.NewTracerWithCode("control read failed", errors.TransportError).Wrap(err))
		}
		s.stop.Store(true)
	}
}

func (s *Sidecar) drainControlFrames(recvNs uint64) {
	var hdr [protocol.HeaderSize]byte
	var payload [protocol.MaxPayloadSize]byte

	for {
		if !s.controlRing.PeekBytes(hdr[:]) {
			return
		}
		header, err := protocol.DecodeHeader(hdr[:])
		if err != nil {
			return
		}
		if err := header.Validate(); err != nil {
			s.log.Error(errors.NewTracerWithCode("control framing error", errors.FramingError).Wrap(err))
			s.stop.Store(true)
			return
		}

		total := protocol.HeaderSize + int(header.Length)
		if s.controlRing.Available() < total {
			return
		}
		s.controlRing.Consume(protocol.HeaderSize)
		s.controlRing.ReadBytes(payload[:header.Length])

		switch header.Type {
		case protocol.MessageTypeTick, protocol.MessageTypeRetransmitResponse:
			tick, err := protocol.DecodeTickPayload(payload[:header.Length])
			if err != nil {
				continue
			}
			s.processTick(header.Sequence, tick, recvNs)
		case protocol.MessageTypeHeartbeat:
			// liveness only
		default:
			// other control frames carry nothing for us
		}
	}
}

// processTick routes one sequenced tick through the gap tracker and the
// callback. Duplicates are dropped.
func (s *Sidecar) processTick(seq uint64, tick marketdatav1.Tick, recvNs uint64) {
	s.gapsMu.Lock()
	result := s.gaps.Observe(seq)
	s.gapsMu.Unlock()

	switch result.Outcome {
	case sequence.GapDuplicate:
		s.duplicates.Add(1)
		return
	case sequence.GapFilled:
		s.filled.Add(1)
	case sequence.GapDetected:
		s.log.Warn("udp gap",
			logger.Field{Key: "sequence", Value: seq},
			logger.Field{Key: "missing", Value: result.Missing},
		)
	}

	s.received.Add(1)
	processNs := s.nowNs()
	s.lat.Add(processNs - recvNs)

	if s.callback != nil {
		s.callback(marketdatav1.TimedTick{
			Tick:             tick,
			Sequence:         seq,
			RecvTimestampNs:  recvNs,
			ParseTimestampNs: processNs,
		})
	}
}

func (s *Sidecar) activeGaps() int {
	s.gapsMu.Lock()
	defer s.gapsMu.Unlock()
	return s.gaps.ActiveGaps()
}

func (s *Sidecar) totalGaps() uint64 {
	s.gapsMu.Lock()
	defer s.gapsMu.Unlock()
	return s.gaps.TotalGaps()
}

// requestRetransmits sends up to MaxRequestsPerCycle range requests for the
// currently missing sequences.
func (s *Sidecar) requestRetransmits() {
	s.gapsMu.Lock()
	ranges := s.gaps.GapRanges()
	s.gapsMu.Unlock()
	if len(ranges) == 0 {
		return
	}

	sent := 0
	for _, r := range ranges {
		if sent >= s.cfg.MaxRequestsPerCycle {
			break
		}
		s.clientSeq++
		frame := protocol.EncodeRetransmitRequest(s.clientSeq, r.Start, r.End)
		if _, err := s.control.Write(frame); err != nil {
			s.log.Error(errors.NewTracerWithCode("retransmit request failed", errors.TransportError).Wrap(err))
			return
		}
		s.requestsSent.Add(1)
		sent++

		s.log.Debug("retransmit requested",
			logger.Field{Key: "start", Value: r.Start},
			logger.Field{Key: "end", Value: r.End},
		)
	}
}
