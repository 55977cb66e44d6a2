package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/YOUniversalIdeas/songIQ-sub006/internal/domain"
	"github.com/YOUniversalIdeas/songIQ-sub006/internal/metrics"
)

const (
	writeDeadline            = 5 * time.Second
	closeFrameDeadline       = time.Second
	DefaultMessageBufferSize = 64
)

// Writer is a domain.Transport over a gorilla WebSocket connection. Frames are queued
// on a bounded channel and written by a dedicated goroutine, so Send never blocks.
type Writer struct {
	connection  *websocket.Conn
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

var _ domain.Transport = (*Writer)(nil)

// NewWriter starts the write goroutine for connection. bufferSize <= 0 selects the default.
func NewWriter(connection *websocket.Conn, clock clockwork.Clock, bufferSize int) *Writer {
	if bufferSize <= 0 {
		bufferSize = DefaultMessageBufferSize
	}
	w := &Writer{
		connection:  connection,
		clock:       clock,
		sendChannel: make(chan []byte, bufferSize),
		doneChannel: make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

func (w *Writer) run() {
	defer w.wg.Done()

	for {
		select {
		case msg := <-w.sendChannel:
			start := w.clock.Now()
			w.updateWriteDeadline()
			if err := w.connection.WriteMessage(websocket.TextMessage, msg); err != nil {
				w.signalStop()
				w.closeConnection(nil)
				return
			}
			metrics.WebSocketMessageSendDuration.Observe(w.clock.Since(start).Seconds())
		case <-w.doneChannel:
			return
		}
	}
}

// Send queues a text frame. It returns domain.ErrSendBufferFull when the client is too
// slow to drain its queue and domain.ErrConnectionClosed after Close.
func (w *Writer) Send(data []byte) error {
	select {
	case <-w.doneChannel:
		return domain.ErrConnectionClosed
	default:
	}

	select {
	case w.sendChannel <- data:
		return nil
	default:
		return domain.ErrSendBufferFull
	}
}

// Probe writes a WebSocket ping. gorilla allows control frames concurrently with the write goroutine.
func (w *Writer) Probe() error {
	select {
	case <-w.doneChannel:
		return domain.ErrConnectionClosed
	default:
	}

	if err := w.connection.WriteControl(websocket.PingMessage, nil, w.clock.Now().Add(writeDeadline)); err != nil {
		metrics.WebSocketPingFailures.Inc()
		return err
	}
	return nil
}

// Close stops the write goroutine and closes the connection without a close frame.
func (w *Writer) Close() error {
	w.signalStop()
	w.closeConnection(nil)
	w.wg.Wait()
	return nil
}

// CloseGraceful sends a close frame with code and reason before closing. A write stuck
// on a client that stopped reading holds the frame back for at most closeFrameDeadline;
// closing the connection then fails that write and the goroutine exits.
func (w *Writer) CloseGraceful(code int, reason string) error {
	w.signalStop()
	w.closeConnection(websocket.FormatCloseMessage(code, reason))
	w.wg.Wait()
	return nil
}

func (w *Writer) signalStop() {
	w.stopOnce.Do(func() { close(w.doneChannel) })
}

// closeConnection closes the socket once, writing closeMsg first when it is set.
// It never waits on the write goroutine.
func (w *Writer) closeConnection(closeMsg []byte) {
	w.closeOnce.Do(func() {
		if closeMsg != nil {
			_ = w.connection.WriteControl(websocket.CloseMessage, closeMsg, w.clock.Now().Add(closeFrameDeadline))
		}
		_ = w.connection.Close()
	})
}

func (w *Writer) updateWriteDeadline() {
	_ = w.connection.SetWriteDeadline(w.clock.Now().Add(writeDeadline))
}
