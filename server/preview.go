package server

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/krishisahay/camera-sdk-go/image"
)

const (
	// writeWait is how long to wait for a frame write to complete.
	writeWait = 10 * time.Second

	// Maximum size of messages read from viewers. Viewers don't send
	// anything, reading only detects disconnects.
	maxMessageSize = 4096
)

// Preview is the display surface of the controller. It sends the attached
// stream as JPEG frames to websocket viewers. The controller sees the
// surface as ready while at least one viewer is connected.
type Preview struct {
	ctl      *image.Controller
	log      *zap.Logger
	interval time.Duration
	quality  int

	regMu sync.Mutex // Serializes register and unregister.

	mu      sync.Mutex
	stream  image.Stream
	viewers map[*viewer]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// Check that Preview implements interface Surface.
var _ image.Surface = (*Preview)(nil)

type viewer struct {
	conn *websocket.Conn
	send chan []byte
}

func newPreview(ctl *image.Controller, interval time.Duration, quality int, log *zap.Logger) *Preview {
	return &Preview{
		ctl:      ctl,
		log:      log,
		interval: interval,
		quality:  quality,
		viewers:  map[*viewer]struct{}{},
	}
}

// Attach implements image.Surface.
func (p *Preview) Attach(s image.Stream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stream = s
}

// Viewers returns the number of connected viewers.
func (p *Preview) Viewers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.viewers)
}

func (p *Preview) register(v *viewer) {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	p.mu.Lock()
	p.viewers[v] = struct{}{}
	first := len(p.viewers) == 1
	if first {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.run(ctx, p.done)
	}
	n := len(p.viewers)
	p.mu.Unlock()

	p.log.Debug("preview viewer connected", zap.Int("viewers", n))
	if first {
		p.ctl.SurfaceReady(p)
	}
}

func (p *Preview) unregister(v *viewer) {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	p.mu.Lock()
	if _, ok := p.viewers[v]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.viewers, v)
	close(v.send)
	n := len(p.viewers)
	var cancel context.CancelFunc
	var done chan struct{}
	if n == 0 {
		cancel, done = p.cancel, p.done
		p.cancel, p.done = nil, nil
	}
	p.mu.Unlock()

	p.log.Debug("preview viewer disconnected", zap.Int("viewers", n))
	if n == 0 {
		p.ctl.SurfaceGone(p)
		cancel()
		<-done
		p.Attach(nil)
	}
}

// Close disconnects all viewers.
func (p *Preview) Close() {
	p.mu.Lock()
	viewers := make([]*viewer, 0, len(p.viewers))
	for v := range p.viewers {
		viewers = append(viewers, v)
	}
	p.mu.Unlock()
	for _, v := range viewers {
		p.unregister(v)
		if v.conn != nil {
			v.conn.Close()
		}
	}
}

func (p *Preview) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		p.mu.Lock()
		s := p.stream
		p.mu.Unlock()
		if s == nil {
			continue
		}
		img, err := s.Frame()
		if err != nil {
			p.log.Debug("reading preview frame", zap.Error(err))
			continue
		}
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
			p.log.Warn("encoding preview frame", zap.Error(err))
			continue
		}
		p.broadcast(buf.Bytes())
	}
}

// broadcast queues a frame for every viewer. Viewers still busy with a
// previous frame skip this one.
func (p *Preview) broadcast(frame []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for v := range p.viewers {
		select {
		case v.send <- frame:
		default:
		}
	}
}

// serveWS handles a websocket viewer until it disconnects.
func (p *Preview) serveWS(conn *websocket.Conn) {
	v := &viewer{conn: conn, send: make(chan []byte, 1)}
	p.register(v)
	wdone := make(chan struct{})
	go func() {
		defer close(wdone)
		v.writePump()
	}()
	v.readPump()
	p.unregister(v)
	<-wdone
}

// readPump reads until the connection is closed.
func (v *viewer) readPump() {
	v.conn.SetReadLimit(maxMessageSize)
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of the connection.
func (v *viewer) writePump() {
	for frame := range v.send {
		v.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := v.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			v.conn.Close()
			// Keep draining until unregistered.
			for range v.send {
			}
			return
		}
	}
}
