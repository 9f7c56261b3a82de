package comms

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/blotkit/goblot/logger"
	"github.com/blotkit/goblot/serialport"
)

// IndexSpace is the number of distinct sequence indices, [0, IndexSpace).
const IndexSpace = 9

const (
	DefaultPollInterval = 10 * time.Millisecond
	DefaultAckTimeout   = 0 // wait forever

	MinPollInterval = time.Millisecond
	MaxPollInterval = time.Second
	MaxQueueSize    = 255
)

// PortOpener opens the named serial port for RunPort.
type PortOpener func(cfg serialport.Config) (io.ReadWriteCloser, error)

func openSerialPort(cfg serialport.Config) (io.ReadWriteCloser, error) {
	return serialport.Open(cfg)
}

// Config holds the driver and client configuration.
type Config struct {
	queueSize    int
	pollInterval time.Duration
	ackTimeout   time.Duration
	readTimeout  time.Duration
	baudRate     int
	opener       PortOpener
	logger       logger.Logger
}

// NewConfig creates a configuration with defaults, then applies opts in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		queueSize:    DefaultQueueSize,
		pollInterval: DefaultPollInterval,
		ackTimeout:   DefaultAckTimeout,
		readTimeout:  serialport.DefaultReadTimeout,
		baudRate:     serialport.DefaultBaudRate,
		opener:       openSerialPort,
		logger:       logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// QueueSize returns the queue capacity.
func (cfg *Config) QueueSize() int { return cfg.queueSize }

// PollInterval returns how often a waiting Submit re-checks its record.
func (cfg *Config) PollInterval() time.Duration { return cfg.pollInterval }

// AckTimeout returns the acknowledgement deadline; zero means none.
func (cfg *Config) AckTimeout() time.Duration { return cfg.ackTimeout }

// ReadTimeout returns the port read timeout used by RunPort.
func (cfg *Config) ReadTimeout() time.Duration { return cfg.readTimeout }

// BaudRate returns the link speed used by RunPort.
func (cfg *Config) BaudRate() int { return cfg.baudRate }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for NewConfig.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithQueueSize sets the number of records kept before the oldest is overwritten.
func WithQueueSize(size int) Option {
	return optFunc(func(cfg *Config) error {
		if size < 1 || size > MaxQueueSize {
			return fmt.Errorf("comms: queue size %d out of range [1, %d]", size, MaxQueueSize)
		}
		cfg.queueSize = size

		return nil
	})
}

// WithPollInterval sets the interval at which Submit polls for resolution.
func WithPollInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinPollInterval || d > MaxPollInterval {
			return fmt.Errorf("comms: poll interval %v out of range [%v, %v]", d, MinPollInterval, MaxPollInterval)
		}
		cfg.pollInterval = d

		return nil
	})
}

// WithAckTimeout bounds how long Submit waits for an acknowledgement.
// Zero disables the deadline.
func WithAckTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 {
			return errors.New("comms: ack timeout must not be negative")
		}
		cfg.ackTimeout = d

		return nil
	})
}

// WithReadTimeout sets the serial read timeout used by RunPort.
func WithReadTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < serialport.MinReadTimeout || d > serialport.MaxReadTimeout {
			return fmt.Errorf("comms: read timeout %v out of range [%v, %v]",
				d, serialport.MinReadTimeout, serialport.MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithBaudRate sets the serial link speed used by RunPort.
func WithBaudRate(baud int) Option {
	return optFunc(func(cfg *Config) error {
		if baud <= 0 {
			return errors.New("comms: baud rate must be positive")
		}
		cfg.baudRate = baud

		return nil
	})
}

// WithPortOpener replaces the function RunPort uses to open a port.
func WithPortOpener(open PortOpener) Option {
	return optFunc(func(cfg *Config) error {
		if open == nil {
			return errors.New("comms: port opener must not be nil")
		}
		cfg.opener = open

		return nil
	})
}

// WithLogger sets the logger for the driver and client.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return errors.New("comms: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
