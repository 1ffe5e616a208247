package sensor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/bolt/v3"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
	"github.com/lguibr/twothread/utils"
)

// Options configures a Demo.
type Options struct {
	Logger    *bolt.Logger
	Observers []bollywood.Observer
	// Seed fixes the writer's pause sequence; 0 seeds from the clock.
	Seed int64
}

// Option is a functional option for configuring a Demo.
type Option func(*Options)

// WithLogger sets the logger shared by the engine and both agents.
func WithLogger(l *bolt.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithObserver attaches a kernel observer.
func WithObserver(obs bollywood.Observer) Option {
	return func(o *Options) {
		if obs != nil {
			o.Observers = append(o.Observers, obs)
		}
	}
}

// WithSeed fixes the random pause sequence.
func WithSeed(seed int64) Option {
	return func(o *Options) { o.Seed = seed }
}

// Demo is the wired two-dispatcher topology.
type Demo struct {
	Engine    *bollywood.Engine
	Reader    *bollywood.Agent
	Writer    *bollywood.Agent
	ReaderPID *bollywood.PID
	WriterPID *bollywood.PID

	cfg    utils.Config
	logger *bolt.Logger
}

// New builds the engine, its two dispatchers and both agents. Nothing runs until Run.
func New(cfg utils.Config, opts ...Option) (*Demo, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := Options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logging.Get()
	}

	engineOpts := []bollywood.Option{bollywood.WithLogger(o.Logger)}
	for _, obs := range o.Observers {
		engineOpts = append(engineOpts, bollywood.WithObserver(obs))
	}
	engine := bollywood.NewEngine(engineOpts...)

	readerD, err := engine.NewDispatcher(cfg.Reader.Dispatcher)
	if err != nil {
		return nil, err
	}
	writerD, err := engine.NewDispatcher(cfg.Writer.Dispatcher)
	if err != nil {
		return nil, err
	}

	writer, err := NewFileWriter(cfg.Writer, utils.NewRand(o.Seed))
	if err != nil {
		return nil, err
	}
	writerPID, err := engine.Bind(writer, writerD)
	if err != nil {
		return nil, err
	}

	reader, err := NewMeterReader(cfg.Reader, writerPID)
	if err != nil {
		return nil, err
	}
	readerPID, err := engine.Bind(reader, readerD)
	if err != nil {
		return nil, err
	}

	return &Demo{
		Engine:    engine,
		Reader:    reader,
		Writer:    writer,
		ReaderPID: readerPID,
		WriterPID: writerPID,
		cfg:       cfg,
		logger:    o.Logger,
	}, nil
}

// Run starts both workers and the acquisition timer, then blocks until ctx is cancelled
// or every agent stopped on its own. Shutdown is bounded by the configured timeout.
func (d *Demo) Run(ctx context.Context) error {
	if err := d.Engine.Start(); err != nil {
		return err
	}
	if _, err := d.Engine.SendPeriodic(d.ReaderPID, AcquisitionTurn{}, 0, d.cfg.Reader.Period); err != nil {
		_ = d.Engine.RequestStop()
		return fmt.Errorf("start acquisition timer: %w", err)
	}

	logging.NewEvent(d.logger.Info()).
		Add(logging.EngineID(d.Engine.ID())).
		Add(logging.Str("reader", d.ReaderPID.String())).
		Add(logging.Str("writer", d.WriterPID.String())).
		Msg("demo running")

	joined := make(chan error, 1)
	go func() { joined <- d.Engine.Join(context.Background()) }()

	select {
	case err := <-joined:
		return err
	case <-ctx.Done():
	}

	if err := d.Engine.RequestStop(); err != nil && !errors.Is(err, bollywood.ErrDoubleStop) {
		return err
	}
	select {
	case err := <-joined:
		return err
	case <-time.After(d.cfg.ShutdownTimeout):
		logging.NewEvent(d.logger.Error()).
			Add(logging.EngineID(d.Engine.ID())).
			Add(logging.Duration(d.cfg.ShutdownTimeout)).
			Msg("dispatchers did not join in time")
		return fmt.Errorf("%w: after %s", bollywood.ErrShutdownTimeout, d.cfg.ShutdownTimeout)
	}
}

// Run builds the demo and runs it until ctx is cancelled.
func Run(ctx context.Context, cfg utils.Config, opts ...Option) error {
	d, err := New(cfg, opts...)
	if err != nil {
		return err
	}
	return d.Run(ctx)
}
