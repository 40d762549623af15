// Package feed wires transport, reassembly, codec, queue, book and trackers
// into the hot ingress pipeline: one reader goroutine feeding one applier
// goroutine through a lock-free SPSC queue.
package feed

import (
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/muhammadchandra19/feedhandler/internal/buffer"
	"github.com/muhammadchandra19/feedhandler/internal/connection"
	marketdatav1 "github.com/muhammadchandra19/feedhandler/internal/domain/marketdata/v1"
	"github.com/muhammadchandra19/feedhandler/internal/protocol"
	"github.com/muhammadchandra19/feedhandler/internal/queue"
	"github.com/muhammadchandra19/feedhandler/internal/sequence"
	"github.com/muhammadchandra19/feedhandler/internal/usecase/orderbook"
	"github.com/muhammadchandra19/feedhandler/pkg/config"
	"github.com/muhammadchandra19/feedhandler/pkg/errors"
	"github.com/muhammadchandra19/feedhandler/pkg/latency"
	"github.com/muhammadchandra19/feedhandler/pkg/logger"
)

// Config holds the pipeline tunables.
type Config struct {
	Protocol      config.Protocol
	Symbol        string
	QueueCapacity int
	RingCapacity  int
	// PollInterval is the read-deadline granularity at which the reader
	// observes the stop flag and the heartbeat clock.
	PollInterval time.Duration
	Verbose      bool
}

// Stats is the orchestrator's report. Latency summaries are populated once
// the pipeline has stopped; counters are live.
type Stats struct {
	DurationMs     int64            `json:"duration_ms"`
	Parsed         uint64           `json:"parsed"`
	Processed      uint64           `json:"processed"`
	ParseErrors    uint64           `json:"parse_errors"`
	GapsDetected   uint64           `json:"gaps_detected"`
	ThroughputPerS float64          `json:"throughput_per_s"`
	RecvToParse    latency.Summary  `json:"recv_to_parse"`
	ParseToProcess latency.Summary  `json:"parse_to_process"`
	EndToEnd       latency.Summary  `json:"e2e_latency"`
}

// TickCallback receives every processed tick on the applier goroutine.
type TickCallback func(marketdatav1.TimedTick)

// Pipeline is the staged ingress pipeline. Construct with NewPipeline, then
// Start, and Stop (or wait for the transport to close) before reading Stats.
type Pipeline struct {
	cfg     Config
	log     logger.Interface
	book    *orderbook.Book
	manager *connection.Manager // nil when the caller owns the transport
	codec   Codec

	transportMu sync.Mutex
	transport   Transport

	ring      *buffer.Ring
	queue     *queue.SPSC[marketdatav1.TimedMessage]
	tracker   *sequence.Tracker

	tickCallback TickCallback
	clientSeq    uint64

	stop        atomic.Bool
	readerDone  chan struct{}
	applierDone chan struct{}

	epoch     time.Time
	startedAt time.Time
	stoppedNs atomic.Int64

	parsed      atomic.Uint64
	processed   atomic.Uint64
	parseErrors atomic.Uint64

	// applier-owned; read only after applierDone is closed
	recvToParse    *latency.Stats
	parseToProcess *latency.Stats
	endToEnd       *latency.Stats
}

// NewPipeline creates a pipeline over an explicit transport, or over a
// connection manager when transport is nil.
func NewPipeline(cfg Config, transport Transport, manager *connection.Manager, book *orderbook.Book, log logger.Interface) *Pipeline {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.RingCapacity <= 0 {
		cfg.RingCapacity = buffer.DefaultCapacity
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 50 * time.Millisecond
	}

	p := &Pipeline{
		cfg:            cfg,
		log:            log,
		book:           book,
		manager:        manager,
		transport:      transport,
		ring:           buffer.NewRing(cfg.RingCapacity),
		queue:          queue.NewSPSC[marketdatav1.TimedMessage](cfg.QueueCapacity),
		tracker:        sequence.NewTracker(),
		readerDone:     make(chan struct{}),
		applierDone:    make(chan struct{}),
		epoch:          time.Now(),
		recvToParse:    latency.NewStats(1 << 16),
		parseToProcess: latency.NewStats(1 << 16),
		endToEnd:       latency.NewStats(1 << 16),
	}

	if cfg.Protocol == config.ProtocolText {
		p.codec = newTextCodec(p.nowNs)
	} else {
		p.codec = newBinaryCodec(p.nowNs)
	}
	return p
}

// SetTickCallback registers fn to be invoked on the applier goroutine for
// each processed tick. Must be called before Start.
func (p *Pipeline) SetTickCallback(fn TickCallback) {
	p.tickCallback = fn
}

// nowNs returns monotonic nanoseconds since pipeline construction.
func (p *Pipeline) nowNs() uint64 {
	return uint64(time.Since(p.epoch))
}

func (p *Pipeline) getTransport() Transport {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	return p.transport
}

func (p *Pipeline) setTransport(t Transport) {
	p.transportMu.Lock()
	defer p.transportMu.Unlock()
	p.transport = t
}

// Start connects (when a manager is present), then launches the reader and
// applier goroutines.
func (p *Pipeline) Start() error {
	if p.manager != nil && p.transport == nil {
		if err := p.manager.Connect(); err != nil {
			return errors.NewTracerWithCode("initial connect failed", errors.ConnectError).Wrap(err)
		}
		p.setTransport(p.manager.Conn())
		p.manager.TransitionToSnapshotRequest()
		p.sendSnapshotRequest()
	}

	p.startedAt = time.Now()
	go p.applyLoop()
	go p.readLoop()
	return nil
}

// Stop requests shutdown, closes the transport to unblock the reader, and
// waits for both goroutines.
func (p *Pipeline) Stop() {
	p.stop.Store(true)
	if t := p.getTransport(); t != nil {
		_ = t.Close()
	}
	p.Wait()
}

// Wait blocks until both goroutines have exited.
func (p *Pipeline) Wait() {
	<-p.readerDone
	<-p.applierDone
}

// Stats reports counters and, once the applier has exited, the latency
// breakdown.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Parsed:       p.parsed.Load(),
		Processed:    p.processed.Load(),
		ParseErrors:  p.parseErrors.Load(),
		GapsDetected: p.tracker.GapsDetected(),
	}

	durationMs := p.stoppedNs.Load() / int64(time.Millisecond)
	if durationMs == 0 && !p.startedAt.IsZero() {
		durationMs = time.Since(p.startedAt).Milliseconds()
	}
	s.DurationMs = durationMs
	if durationMs > 0 {
		s.ThroughputPerS = float64(s.Processed) * 1000.0 / float64(durationMs)
	}

	select {
	case <-p.applierDone:
		s.RecvToParse = p.recvToParse.Summarize()
		s.ParseToProcess = p.parseToProcess.Summarize()
		s.EndToEnd = p.endToEnd.Summarize()
	default:
	}
	return s
}

// readLoop runs the transport -> reassembly -> decode -> enqueue stage.
func (p *Pipeline) readLoop() {
	defer close(p.readerDone)
	p.log.Info("reader started")

	for !p.stop.Load() {
		region := p.ring.WritableRegion()
		if len(region) == 0 {
			// The applier is permanently stalled; there is no way to make
			// forward progress on this connection.
			p.log.Error(errors.NewTracerWithCode("reassembly buffer full", errors.ReassemblyOverflowError))
			break
		}

		t := p.getTransport()
		_ = t.SetReadDeadline(time.Now().Add(p.cfg.PollInterval))
		n, err := t.Read(region)
		recvNs := p.nowNs()

		if n > 0 {
			p.ring.CommitWrite(n)
			if p.manager != nil {
				p.manager.UpdateLastMessageTime()
			}
			if ferr := p.drainFrames(recvNs); ferr != nil {
				p.log.Error(errors.NewTracerWithCode("framing error", errors.FramingError).Wrap(ferr))
				if !p.reconnect() {
					break
				}
				continue
			}
		}

		if err == nil {
			continue
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			// Poll tick: nothing arrived within the deadline.
			if p.manager != nil && p.manager.IsHeartbeatTimeout() {
				p.log.Warn("heartbeat timeout",
					logger.Field{Key: "silent_s", Value: p.manager.SecondsSinceLastMessage()},
				)
				if !p.reconnect() {
					break
				}
			} else {
				runtime.Gosched()
			}
			continue
		}
		if p.stop.Load() {
			break
		}
		if err == io.EOF {
			p.log.Info("connection closed by remote")
		} else {
			p.log.Error(errors.NewTracerWithCode("transport read failed", errors.TransportError).Wrap(err))
		}
		if !p.reconnect() {
			break
		}
	}

	p.stop.Store(true)
	p.stoppedNs.Store(int64(time.Since(p.startedAt)))
	p.log.Info("reader exiting",
		logger.Field{Key: "parsed", Value: p.parsed.Load()},
		logger.Field{Key: "parse_errors", Value: p.parseErrors.Load()},
	)
}

// drainFrames decodes every complete message currently buffered. A non-nil
// return is a fatal framing error.
func (p *Pipeline) drainFrames(recvNs uint64) error {
	for {
		msg, status, err := p.codec.Decode(p.ring, recvNs)
		if err != nil {
			return err
		}
		switch status {
		case DecodeNeedMore:
			return nil
		case DecodeSkip:
			p.parseErrors.Add(1)
			continue
		}

		p.parsed.Add(1)

		if p.codec.Sequenced() {
			result := p.tracker.Track(msg.Sequence)
			switch result.Outcome {
			case sequence.Gap:
				// Informational on TCP: the transport orders bytes, so the
				// producer itself skipped; nothing to recover.
				p.log.Warn("sequence gap",
					logger.Field{Key: "sequence", Value: msg.Sequence},
					logger.Field{Key: "missing", Value: result.Missing},
				)
			case sequence.DuplicateOrOld:
				continue
			}
		}

		if msg.Kind == marketdatav1.EventHeartbeat {
			continue // liveness already refreshed on receipt
		}

		if p.manager != nil {
			switch msg.Kind {
			case marketdatav1.EventSnapshot:
				p.manager.TransitionToSnapshotReplay()
			case marketdatav1.EventBookUpdate, marketdatav1.EventTick:
				p.manager.TransitionToIncremental()
			}
		}

		for !p.queue.Push(msg) {
			if p.stop.Load() {
				return nil
			}
			runtime.Gosched()
		}
	}
}

// reconnect tears the connection down and re-establishes it with backoff,
// resetting per-connection state. Returns false when the pipeline should
// stop instead (no manager, or stop requested).
func (p *Pipeline) reconnect() bool {
	if p.manager == nil {
		return false
	}

	p.ring.Clear()
	p.tracker.Reset()

	for !p.stop.Load() {
		if err := p.manager.Reconnect(); err == nil {
			break
		}
	}
	if p.stop.Load() {
		return false
	}

	p.setTransport(p.manager.Conn())
	p.manager.TransitionToSnapshotRequest()
	p.sendSnapshotRequest()
	return true
}

// sendSnapshotRequest asks the feed for a full book image. Only the binary
// protocol has a snapshot request frame.
func (p *Pipeline) sendSnapshotRequest() {
	if p.cfg.Protocol != config.ProtocolBinary || !p.manager.NeedsSnapshotRequest() {
		return
	}
	w, ok := p.getTransport().(io.Writer)
	if !ok {
		return
	}

	p.clientSeq++
	frame := protocol.EncodeSnapshotRequest(p.clientSeq, p.cfg.Symbol)
	if _, err := w.Write(frame); err != nil {
		p.log.Error(errors.NewTracerWithCode("snapshot request failed", errors.TransportError).Wrap(err))
		return
	}
	p.manager.MarkSnapshotRequested()
	p.log.Info("snapshot requested", logger.Field{Key: "symbol", Value: p.cfg.Symbol})
}

// applyLoop runs the dequeue -> latency accounting -> apply stage.
func (p *Pipeline) applyLoop() {
	defer close(p.applierDone)
	p.log.Info("applier started")

	for {
		msg, ok := p.queue.Pop()
		if !ok {
			if p.stop.Load() && p.queue.Empty() {
				break
			}
			runtime.Gosched()
			continue
		}

		processNs := p.nowNs()
		p.recvToParse.Add(msg.ParseTimestampNs - msg.RecvTimestampNs)
		p.parseToProcess.Add(processNs - msg.ParseTimestampNs)
		p.endToEnd.Add(processNs - msg.RecvTimestampNs)

		switch msg.Kind {
		case marketdatav1.EventSnapshot:
			p.book.LoadSnapshot(msg.Snapshot.Bids, msg.Snapshot.Asks)
			if p.cfg.Verbose {
				p.logTopOfBook(msg.Snapshot.Symbol)
			}

		case marketdatav1.EventBookUpdate:
			// Incrementals that raced ahead of the snapshot replay are
			// stale against the image that will replace them.
			if p.manager != nil && p.manager.State() < connection.StateSnapshotReplay {
				break
			}
			_ = p.book.ApplyUpdate(msg.Update.Side, msg.Update.Price, msg.Update.Quantity)
			if p.cfg.Verbose {
				p.logTopOfBook(msg.Update.Symbol)
			}

		case marketdatav1.EventTick:
			if p.tickCallback != nil {
				p.tickCallback(marketdatav1.TimedTick{
					Tick:             msg.Tick,
					Sequence:         msg.Sequence,
					RecvTimestampNs:  msg.RecvTimestampNs,
					ParseTimestampNs: msg.ParseTimestampNs,
				})
			}
		}

		p.processed.Add(1)
	}

	p.log.Info("applier exiting",
		logger.Field{Key: "processed", Value: p.processed.Load()},
	)
}

func (p *Pipeline) logTopOfBook(symbol string) {
	fields := []logger.Field{{Key: "symbol", Value: symbol}}
	if bid, ok := p.book.BestBid(); ok {
		fields = append(fields,
			logger.Field{Key: "bid", Value: bid.Price},
			logger.Field{Key: "bid_qty", Value: bid.Quantity},
		)
	}
	if ask, ok := p.book.BestAsk(); ok {
		fields = append(fields,
			logger.Field{Key: "ask", Value: ask.Price},
			logger.Field{Key: "ask_qty", Value: ask.Quantity},
		)
	}
	p.log.Debug("top of book", fields...)
}
