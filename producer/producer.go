// Package producer reads camera frames and publishes them to the frame
// mailbox and the live video topic.
//
// Frames are captured at the camera frame rate. Two independent samplers
// forward the most recent capture: one into the mailbox at the queue rate,
// one to the video channel at the UI rate. A sampler emits nothing when no
// new frame arrived since its last tick. The video sampler hands frames to
// a separate streaming goroutine through a one-slot, latest-wins buffer, so
// a slow or unreachable hub never delays capture or the mailbox.
package producer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"

	"github.com/edgeorder/labelreader/log"
	"github.com/edgeorder/labelreader/mailbox"
	"github.com/edgeorder/labelreader/types"
)

// Sender delivers a message on a duplex channel.
type Sender interface {
	Send(payload []byte, binary bool) bool
}

// Config holds producer rates.
type Config struct {
	FrameRate float64
	QueueFPS  float64
	UIFPS     float64
	// Now and NewID override the clock and id generator (for testing).
	Now   func() time.Time
	NewID func() string
}

// Stats counts producer activity.
type Stats struct {
	Captured   int64
	Queued     int64
	Rejected   int64
	Streamed   int64
	ReadErrors int64
}

// Producer is the frame provider worker.
type Producer struct {
	config Config
	source Source
	box    mailbox.Box
	video  Sender
	logger *log.Logger
	stats  Stats
}

// New creates a producer. video may be nil to disable the live stream.
func New(config Config, source Source, box mailbox.Box, video Sender, logger *log.Logger) (*Producer, error) {
	if source == nil || box == nil {
		return nil, errors.New("producer requires a source and a mailbox")
	}
	if config.FrameRate <= 0 || config.QueueFPS <= 0 || config.UIFPS <= 0 {
		return nil, fmt.Errorf("producer rates must be positive: frame=%v queue=%v ui=%v",
			config.FrameRate, config.QueueFPS, config.UIFPS)
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.NewID == nil {
		config.NewID = uuid.NewString
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Producer{config: config, source: source, box: box, video: video, logger: logger}, nil
}

func period(fps float64) time.Duration {
	return time.Duration(float64(time.Second) / fps)
}

// Run captures and publishes frames until ctx is cancelled or the source is
// exhausted. A broken mailbox stream is returned as an error.
func (p *Producer) Run(ctx context.Context) error {
	p.logger.Info("producer started", map[string]any{
		"frame_rate": p.config.FrameRate,
		"queue_fps":  p.config.QueueFPS,
		"ui_fps":     p.config.UIFPS,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	video := make(chan types.Frame, 1)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.streamLoop(gctx, video)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return p.sample(gctx, video)
	})
	err := g.Wait()
	p.logStats()
	return err
}

// sample owns capture and the two samplers. It never blocks on the video
// channel.
func (p *Producer) sample(ctx context.Context, video chan types.Frame) error {
	capture := time.NewTicker(period(p.config.FrameRate))
	defer capture.Stop()
	queue := time.NewTicker(period(p.config.QueueFPS))
	defer queue.Stop()
	ui := time.NewTicker(period(p.config.UIFPS))
	defer ui.Stop()

	var (
		latest         *types.Frame
		queued, showed string
	)
	for {
		select {
		case <-ctx.Done():
			return nil

		case <-capture.C:
			frame, err := p.capture()
			if errors.Is(err, io.EOF) {
				p.logger.Info("frame source exhausted", nil)
				return nil
			}
			if err != nil {
				p.stats.ReadErrors++
				p.logger.Warn("frame read failed", map[string]any{"error": err.Error()})
				continue
			}
			latest = &frame

		case <-queue.C:
			if latest == nil || latest.CorrelationID == queued {
				continue
			}
			queued = latest.CorrelationID
			if err := p.enqueue(*latest); err != nil {
				return err
			}

		case <-ui.C:
			if latest == nil || latest.CorrelationID == showed {
				continue
			}
			showed = latest.CorrelationID
			if p.video != nil {
				offer(video, *latest)
			}
		}
	}
}

// offer replaces whatever frame is waiting in slot with frame.
// sample is the only writer.
func offer(slot chan types.Frame, frame types.Frame) {
	select {
	case slot <- frame:
		return
	default:
	}
	select {
	case <-slot:
	default:
	}
	select {
	case slot <- frame:
	default:
	}
}

func (p *Producer) streamLoop(ctx context.Context, video <-chan types.Frame) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-video:
			p.stream(frame)
		}
	}
}

func (p *Producer) capture() (types.Frame, error) {
	data, err := p.source.Next()
	if err != nil {
		return types.Frame{}, err
	}
	p.stats.Captured++
	return types.Frame{Image: data, CapturedAt: p.config.Now(), CorrelationID: p.config.NewID()}, nil
}

func (p *Producer) enqueue(frame types.Frame) error {
	if p.box.Put(frame) {
		p.stats.Queued++
		return nil
	}
	p.stats.Rejected++
	if reporter, ok := p.box.(interface{ Err() error }); ok && reporter.Err() != nil {
		return fmt.Errorf("mailbox unavailable: %w", reporter.Err())
	}
	p.logger.Debug("mailbox put rejected", map[string]any{"correlation_id": frame.CorrelationID})
	return nil
}

func (p *Producer) stream(frame types.Frame) {
	if p.video == nil {
		return
	}
	payload, err := msgpack.Marshal(types.VideoFrame{RawFrame: frame.Image, CorrelationID: frame.CorrelationID})
	if err != nil {
		p.logger.Warn("video frame encode failed", map[string]any{"error": err.Error()})
		return
	}
	if p.video.Send(payload, true) {
		p.stats.Streamed++
	}
}

// Stats returns a copy of the counters. Not safe to call while Run is active;
// Run returns only after the streaming goroutine has stopped.
func (p *Producer) Stats() Stats {
	return p.stats
}

func (p *Producer) logStats() {
	p.logger.Info("producer stopped", map[string]any{
		"captured":    p.stats.Captured,
		"queued":      p.stats.Queued,
		"rejected":    p.stats.Rejected,
		"streamed":    p.stats.Streamed,
		"read_errors": p.stats.ReadErrors,
	})
}
