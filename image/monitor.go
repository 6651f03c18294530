package image

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	krishisahay "github.com/krishisahay/camera-sdk-go"
)

// MonitorEvent is the result of one periodic inspection.
type MonitorEvent struct {
	// If not nil, capturing or detection failed. Image may still be set if
	// only detection failed.
	Err error

	Image *CapturedImage

	// Moving average of the confidence per disease class, over the last
	// inspections. Nil if the endpoint reported the inspection unsuccessful.
	Smoothed map[string]float64

	// How long inspecting took.
	Inspecting time.Duration
}

// MonitorOpts are options for a monitor.
type MonitorOpts struct {
	Logger    *zap.Logger
	Interval  time.Duration // Time between inspections, 5s if zero.
	Threshold float64       // Confidence threshold sent with each capture, 0.25 if zero.
	Smoothing int           // Moving average window, 5 if zero.
}

// Monitor inspects the active session at a fixed interval, and sends the
// results on channel Events.
type Monitor struct {
	Events chan MonitorEvent

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewMonitor starts a monitor inspecting with in.
//
// Callers must call Close to stop the monitor. The camera must be started
// and stopped separately.
func NewMonitor(in *Inspector, opts *MonitorOpts) (*Monitor, error) {
	var xopts MonitorOpts
	if opts != nil {
		xopts = *opts
	}
	if xopts.Interval == 0 {
		xopts.Interval = 5 * time.Second
	}
	if xopts.Interval < 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if xopts.Threshold == 0 {
		xopts.Threshold = krishisahay.DefaultConfidenceThreshold
	}
	if xopts.Smoothing == 0 {
		xopts.Smoothing = 5
	}
	log := xopts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	maf, err := krishisahay.NewMAF(xopts.Smoothing)
	if err != nil {
		return nil, fmt.Errorf("new moving average filter: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		Events: make(chan MonitorEvent, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	send := func(ev MonitorEvent) {
		select {
		case m.Events <- ev:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(xopts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			t0 := time.Now()
			img, err := in.Inspect(ctx, xopts.Threshold)
			if errors.Is(err, ErrBusy) {
				log.Debug("skipping inspection, previous one still in flight")
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				send(MonitorEvent{Err: err, Image: img, Inspecting: time.Since(t0)})
				continue
			}
			if !img.Result().Success {
				// Nothing to average, the endpoint did not inspect the frame.
				send(MonitorEvent{Image: img, Inspecting: time.Since(t0)})
				continue
			}
			smoothed, err := maf.Update(img.Result().Classes())
			if err != nil {
				send(MonitorEvent{Err: err, Image: img})
				continue
			}
			send(MonitorEvent{Image: img, Smoothed: smoothed, Inspecting: time.Since(t0)})
		}
	}()

	return m, nil
}

// Close stops the monitor, cancelling an inspection in flight. No further
// events are sent after Close returns.
func (m *Monitor) Close() error {
	m.once.Do(func() {
		m.cancel()
		<-m.done
	})
	return nil
}
