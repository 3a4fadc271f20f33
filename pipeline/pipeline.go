// Package pipeline sequences background removal requests: encode, a
// serialized inference, mask post-processing and compositing.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/chaos-io/rembg/composite"
	"github.com/chaos-io/rembg/errcode"
	"github.com/chaos-io/rembg/mask"
	"github.com/chaos-io/rembg/raster"
	"github.com/chaos-io/rembg/session"
	"github.com/chaos-io/rembg/tensor"
)

const (
	DefaultMaxInputDimension = 4096
	DefaultInferenceTimeout  = 30 * time.Second
	DefaultMaxQueueDepth     = 8
)

type Config struct {
	ModelPath         string
	MaxInputDimension int
	InferenceTimeout  time.Duration
	MaxQueueDepth     int
}

func (c Config) withDefaults() Config {
	if c.MaxInputDimension <= 0 {
		c.MaxInputDimension = DefaultMaxInputDimension
	}
	if c.InferenceTimeout <= 0 {
		c.InferenceTimeout = DefaultInferenceTimeout
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	return c
}

// Stats are cumulative counters since the pipeline started.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
	TimedOut  int64 `json:"timed_out"`
	Dropped   int64 `json:"dropped"`
	QueueLen  int   `json:"queue_len"`
}

type job struct {
	ctx    context.Context
	id     string
	input  *tensor.Tensor
	result chan jobResult // buffered, so the worker never blocks on an abandoned caller
}

type jobResult struct {
	output *tensor.Tensor
	err    error
}

// Pipeline is safe for concurrent use. Codec, mask and compositing work runs
// on the calling goroutine; inference runs on a single worker fed FIFO.
type Pipeline struct {
	cfg     Config
	codec   *tensor.Codec
	session *session.Manager
	logger  *zap.Logger

	jobs      chan *job
	quit      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
	dropped   atomic.Int64
}

// New starts the inference worker. Close stops it.
func New(cfg Config, codec *tensor.Codec, mgr *session.Manager, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	p := &Pipeline{
		cfg:     cfg,
		codec:   codec,
		session: mgr,
		logger:  logger.Named("pipeline"),
		jobs:    make(chan *job, cfg.MaxQueueDepth),
		quit:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// Close stops the worker. Queued jobs fail with CANCELED; the session stays
// loaded and belongs to its owner.
func (p *Pipeline) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		for {
			select {
			case j := <-p.jobs:
				j.result <- jobResult{err: errcode.New(errcode.Canceled, "pipeline closed")}
			default:
				return
			}
		}
	})
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Succeeded: p.succeeded.Load(),
		Failed:    p.failed.Load(),
		TimedOut:  p.timedOut.Load(),
		Dropped:   p.dropped.Load(),
		QueueLen:  len(p.jobs),
	}
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				// abandoned before it started
				p.dropped.Add(1)
				p.logger.Debug("dropped queued job", zap.String("request_id", j.id), zap.Error(err))
				j.result <- jobResult{err: err}
				continue
			}
			out, err := p.session.Run(j.input)
			j.result <- jobResult{output: out, err: err}
		}
	}
}

// RemoveBackground runs the full pipeline on req. It returns either a
// complete result or an *errcode.Error, never both.
func (p *Pipeline) RemoveBackground(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()
	id := ksuid.New().String()
	p.submitted.Add(1)

	res, err := p.run(ctx, id, req)
	if err != nil {
		e := errcode.As(err)
		switch e.Code {
		case errcode.InferenceTimeout:
			p.timedOut.Add(1)
		case errcode.DimensionMismatch:
			p.logger.Error("mask and image out of alignment", zap.String("request_id", id), zap.Error(e))
		}
		p.failed.Add(1)
		p.logger.Info("request failed",
			zap.String("request_id", id),
			zap.String("code", string(e.Code)),
			zap.Duration("cost", time.Since(start)),
			zap.Error(e))
		return nil, e
	}

	res.RequestID = id
	res.Elapsed = time.Since(start)
	p.succeeded.Add(1)
	p.logger.Info("request done",
		zap.String("request_id", id),
		zap.Int("width", res.Image.Width),
		zap.Int("height", res.Image.Height),
		zap.Float64("coverage", res.Mask.Coverage()),
		zap.Duration("cost", res.Elapsed))
	return res, nil
}

func (p *Pipeline) run(parent context.Context, id string, req *Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(parent, p.cfg.InferenceTimeout)
	defer cancel()

	if req == nil {
		return nil, errcode.New(errcode.InvalidImage, "request is nil")
	}
	if err := req.Options.validate(); err != nil {
		return nil, err
	}
	img := req.Image
	if err := img.Validate(); err != nil {
		return nil, err
	}
	if err := p.checkDimensions(img.Width, img.Height); err != nil {
		return nil, err
	}
	if err := p.ensureLoaded(ctx, parent); err != nil {
		return nil, err
	}

	input, err := p.codec.Encode(img)
	if err != nil {
		return nil, err
	}
	if err := p.interrupted(ctx, parent); err != nil {
		return nil, err
	}

	output, err := p.infer(ctx, parent, id, input)
	if err != nil {
		return nil, err
	}

	m, err := p.codec.Decode(output)
	if err != nil {
		return nil, err
	}
	m, err = mask.Resize(m, img.Width, img.Height)
	if err != nil {
		return nil, err
	}
	m, err = mask.Refine(m, req.Options.FeatherRadius)
	if err != nil {
		return nil, err
	}
	if err := p.interrupted(ctx, parent); err != nil {
		return nil, err
	}

	out, err := composite.Composite(img, m, req.Options.Background, req.Options.hardEdges())
	if err != nil {
		return nil, err
	}
	if err := p.interrupted(ctx, parent); err != nil {
		return nil, err
	}
	return &Result{Image: out, Mask: m}, nil
}

// ensureLoaded waits for the lazy model load until the request deadline. An
// abandoned load keeps running and later requests pick up its model.
func (p *Pipeline) ensureLoaded(ctx, parent context.Context) error {
	if p.session.Loaded() {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		done <- p.session.EnsureLoaded(p.cfg.ModelPath)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return p.interrupted(ctx, parent)
	}
}

// infer queues the input for the worker and waits for its output. A full
// queue is rejected at once rather than blocking.
func (p *Pipeline) infer(ctx, parent context.Context, id string, input *tensor.Tensor) (*tensor.Tensor, error) {
	j := &job{ctx: ctx, id: id, input: input, result: make(chan jobResult, 1)}
	select {
	case <-p.quit:
		return nil, errcode.New(errcode.Canceled, "pipeline closed")
	default:
	}
	select {
	case p.jobs <- j:
	default:
		return nil, errcode.New(errcode.QueueFull, "inference queue is full (%d)", cap(p.jobs))
	}

	select {
	case r := <-j.result:
		if r.err != nil {
			if ierr := p.interrupted(ctx, parent); ierr != nil {
				return nil, ierr
			}
			return nil, r.err
		}
		return r.output, nil
	case <-ctx.Done():
		// the worker finishes any running inference and drops the output
		return nil, p.interrupted(ctx, parent)
	case <-p.quit:
		return nil, errcode.New(errcode.Canceled, "pipeline closed")
	}
}

// interrupted maps a done context onto CANCELED or INFERENCE_TIMEOUT.
func (p *Pipeline) interrupted(ctx, parent context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
		return errcode.Wrap(errcode.Canceled, parent.Err(), "request canceled")
	}
	return errcode.New(errcode.InferenceTimeout, "request exceeded %s", p.cfg.InferenceTimeout)
}

func (p *Pipeline) checkDimensions(w, h int) error {
	if w <= 0 || h <= 0 {
		return errcode.New(errcode.InvalidImage, "image is %dx%d", w, h)
	}
	if limit := p.cfg.MaxInputDimension; w > limit || h > limit {
		return errcode.New(errcode.ImageTooLarge, "image is %dx%d, limit is %d per side", w, h, limit)
	}
	return nil
}

// RemoveBackgroundBytes decodes an encoded image, removes its background and
// returns the result as PNG. The size limit is checked from the header before
// the pixels are decoded.
func (p *Pipeline) RemoveBackgroundBytes(ctx context.Context, data []byte, opts Options) ([]byte, *Result, error) {
	cfg, err := raster.DecodeConfig(data)
	if err != nil {
		return nil, nil, err
	}
	if err := p.checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, nil, err
	}
	img, err := raster.Decode(data)
	if err != nil {
		return nil, nil, err
	}
	res, err := p.RemoveBackground(ctx, &Request{Image: img, Options: opts})
	if err != nil {
		return nil, nil, err
	}
	out, err := res.Image.EncodePNG()
	if err != nil {
		return nil, nil, errcode.Wrap(errcode.Internal, err, "encode result")
	}
	return out, res, nil
}
