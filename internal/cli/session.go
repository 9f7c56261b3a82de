package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/blotkit/goblot/comms"
	"github.com/blotkit/goblot/devicesim"
	"github.com/blotkit/goblot/internal/tui"
	"github.com/blotkit/goblot/logger"
	"github.com/blotkit/goblot/plotter"
	"github.com/blotkit/goblot/serialport"
)

// Replaced in tests.
var (
	selectUSB = serialport.SelectUSB
	pickPort  = func(candidates []serialport.PortInfo) (string, error) {
		return tui.PickPort(candidates)
	}
)

// session is a running driver with a plotter on top of it.
type session struct {
	driver  *comms.Driver
	plotter *plotter.Plotter
	device  *devicesim.Device // demo only
	cancel  context.CancelFunc
}

func openSession(ctx context.Context, log logger.Logger) (*session, error) {
	ccfg, err := comms.NewConfig(append(cfg.CommsOptions(), comms.WithLogger(log))...)
	if err != nil {
		return nil, err
	}
	drv := comms.NewDriver(ccfg)

	p, err := plotter.New(drv.Client(), append(cfg.PlotterOptions(), plotter.WithLogger(log))...)
	if err != nil {
		return nil, err
	}

	var name string
	if !demo {
		if name, err = resolvePort(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &session{driver: drv, plotter: p, cancel: cancel}

	if demo {
		s.device = devicesim.New(devicesim.WithLogger(log))
		go func() { _ = drv.Run(ctx, s.device) }()
		log.Info("blotctl: using simulated plotter")
	} else {
		go func() { _ = drv.RunPort(ctx, name) }()
	}

	return s, nil
}

// close stops the driver and returns its failure, if it failed on its own.
func (s *session) close() error {
	s.cancel()
	<-s.driver.Done()
	if s.device != nil {
		_ = s.device.Close()
	}

	if err := s.driver.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// printDevice reports the simulated plotter state in demo mode.
func (s *session) printDevice(w io.Writer) {
	if s.device == nil {
		return
	}

	st := s.device.State()
	pen, motors := "up", "off"
	if st.PenDown() {
		pen = "down"
	}
	if st.MotorsOn {
		motors = "on"
	}
	fmt.Fprintf(w, "device: at %s, origin %s, pen %s, motors %s\n",
		plotter.Position{X: st.X, Y: st.Y}, plotter.Position{X: st.OriginX, Y: st.OriginY}, pen, motors)
}

// resolvePort returns the configured port or picks an attached USB port.
func resolvePort() (string, error) {
	if cfg.Serial.Port != "" {
		return cfg.Serial.Port, nil
	}

	selected, candidates, err := selectUSB()
	if err != nil {
		return "", err
	}
	if selected != "" {
		logger.Info("blotctl: using the only USB serial port", "port", selected)
		return selected, nil
	}

	return pickPort(candidates)
}

// runOneShot runs fn in a session logging to w and prints the device state
// in demo mode.
func runOneShot(ctx context.Context, w io.Writer, fn func(ctx context.Context, p *plotter.Plotter) error) error {
	s, err := openSession(ctx, logger.GetLogger())
	if err != nil {
		return err
	}

	if err := fn(ctx, s.plotter); err != nil {
		_ = s.close()
		return err
	}
	s.printDevice(w)

	return s.close()
}
