package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/setupwatch/internal/domain"
)

// BusFeeder subscribes to the "prices" channel and submits every observation
// it carries.
type BusFeeder struct {
	bus    domain.SignalBus
	sink   Submitter
	logger *slog.Logger
	now    func() time.Time
}

// NewBusFeeder creates a BusFeeder.
func NewBusFeeder(bus domain.SignalBus, sink Submitter, logger *slog.Logger) *BusFeeder {
	return &BusFeeder{
		bus:    bus,
		sink:   sink,
		logger: logger.With(slog.String("component", "bus_feeder")),
		now:    time.Now,
	}
}

// Run consumes the channel until ctx is cancelled or the subscription closes.
func (f *BusFeeder) Run(ctx context.Context) error {
	ch, err := f.bus.Subscribe(ctx, domain.ChannelPrices)
	if err != nil {
		return err
	}
	f.logger.Info("bus feeder started")
	defer f.logger.Info("bus feeder stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-ch:
			if !ok {
				return nil
			}
			f.handle(data)
		}
	}
}

func (f *BusFeeder) handle(data []byte) {
	obs, err := Decode(data, f.now())
	if err != nil {
		f.logger.Debug("bus feeder decode failed",
			slog.String("error", err.Error()),
			slog.Int("payload_len", len(data)),
		)
		return
	}
	for _, o := range obs {
		f.sink.Submit(o)
	}
}
