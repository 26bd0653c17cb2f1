package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// LevelFunc receives amplitude samples derived from the microphone
// stream. Values are normalized to [0,1].
type LevelFunc func(rms, peak float64)

// Controller owns the single live microphone session. All other
// components consume derived data (PCM copies, amplitude levels) and
// never touch the device directly.
type Controller struct {
	device     Device
	cfg        Config
	onLevel    LevelFunc
	levelEvery time.Duration
	log        *slog.Logger

	mu       sync.Mutex
	session  Session
	cancel   context.CancelFunc
	pumpDone chan struct{}
	sink     chan []byte
	readErr  error
}

func NewController(device Device, cfg Config, levelEvery time.Duration, onLevel LevelFunc, log *slog.Logger) *Controller {
	if levelEvery <= 0 {
		levelEvery = 50 * time.Millisecond
	}
	return &Controller{
		device:     device,
		cfg:        cfg,
		onLevel:    onLevel,
		levelEvery: levelEvery,
		log:        log.With(slog.String("component", "capture")),
	}
}

// Start acquires the microphone and begins pumping PCM. The pump keeps
// feeding the level callback even while no recorder is attached.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return errors.New("capture already started")
	}
	c.mu.Unlock()

	pumpCtx, cancel := context.WithCancel(ctx)
	session, err := c.device.Open(pumpCtx, c.cfg)
	if err != nil {
		cancel()
		return fmt.Errorf("open capture device: %w", err)
	}

	done := make(chan struct{})

	c.mu.Lock()
	c.session = session
	c.cancel = cancel
	c.pumpDone = done
	c.readErr = nil
	c.mu.Unlock()

	go c.pump(session, done)
	c.log.Debug("capture started",
		slog.Int("sample_rate", c.cfg.SampleRate),
		slog.Int("channels", c.cfg.Channels))
	return nil
}

// Stop releases the microphone and halts the pump. Safe to call more
// than once; every call after the first is a no-op returning nil.
func (c *Controller) Stop() error {
	c.mu.Lock()
	session := c.session
	cancel := c.cancel
	done := c.pumpDone
	c.session = nil
	c.cancel = nil
	c.sink = nil
	c.mu.Unlock()

	if session == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	err := session.Stop()
	if done != nil {
		<-done
	}
	c.log.Debug("capture stopped")
	return err
}

// Active reports whether a microphone session is currently held.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Record collects PCM for the given window and returns it. Only one
// recorder may exist at a time; the next recording cannot begin until
// this call has returned.
func (c *Controller) Record(ctx context.Context, window time.Duration) ([]byte, error) {
	ch, done, detach, err := c.attach(64)
	if err != nil {
		return nil, err
	}
	defer detach()

	timer := time.NewTimer(window)
	defer timer.Stop()

	var buf bytes.Buffer
	for {
		select {
		case data := <-ch:
			buf.Write(data)
		case <-timer.C:
			return buf.Bytes(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			c.mu.Lock()
			readErr := c.readErr
			c.mu.Unlock()
			if readErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrCaptureClosed, readErr)
			}
			return nil, ErrCaptureClosed
		}
	}
}

// Stream attaches a long-lived PCM consumer, used by the in-engine
// recognition strategy. The returned release func must be called when
// the consumer is finished.
func (c *Controller) Stream(buffer int) (<-chan []byte, func(), error) {
	ch, _, detach, err := c.attach(buffer)
	return ch, detach, err
}

func (c *Controller) attach(buffer int) (chan []byte, chan struct{}, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil, nil, ErrCaptureClosed
	}
	if c.sink != nil {
		return nil, nil, nil, ErrRecorderActive
	}
	ch := make(chan []byte, buffer)
	c.sink = ch
	done := c.pumpDone
	detach := func() {
		c.mu.Lock()
		if c.sink == ch {
			c.sink = nil
		}
		c.mu.Unlock()
	}
	return ch, done, detach, nil
}

func (c *Controller) pump(session Session, done chan struct{}) {
	defer close(done)

	meter := newLevelMeter(c.levelEvery)
	buf := make([]byte, 4096)
	for {
		n, err := session.Read(buf)
		if n > 0 {
			if c.onLevel != nil {
				if rms, peak, ok := meter.add(buf[:n]); ok {
					c.onLevel(rms, peak)
				}
			}
			c.mu.Lock()
			sink := c.sink
			c.mu.Unlock()
			if sink != nil {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case sink <- chunk:
				default:
					// slow consumer, drop rather than stall the device
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.mu.Lock()
				c.readErr = err
				c.mu.Unlock()
				c.log.Warn("capture stream error", slog.String("error", err.Error()))
			}
			return
		}
	}
}

// levelMeter derives coarse amplitude samples from s16le PCM.
type levelMeter struct {
	every    time.Duration
	lastEmit time.Time
	sumSq    float64
	peak     float64
	count    int
}

func newLevelMeter(every time.Duration) *levelMeter {
	return &levelMeter{every: every, lastEmit: time.Now()}
}

func (m *levelMeter) add(pcm []byte) (rms, peak float64, ok bool) {
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		m.sumSq += sample * sample
		if abs := math.Abs(sample); abs > m.peak {
			m.peak = abs
		}
		m.count++
	}
	if m.count == 0 || time.Since(m.lastEmit) < m.every {
		return 0, 0, false
	}
	rms = math.Sqrt(m.sumSq / float64(m.count))
	peak = m.peak
	m.sumSq, m.peak, m.count = 0, 0, 0
	m.lastEmit = time.Now()
	return rms, peak, true
}
