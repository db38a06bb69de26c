package sciuart

import "sync/atomic"

// Stats holds counters since the last reset.
type Stats struct {
	// Receive
	RxBytes    uint64 // bytes handed to the application
	RxWindows  uint64 // completed receive windows
	// RxOverruns and RxLost are settled when a window completes. Bytes the
	// hardware has already overwritten in the active window are not counted
	// until that window completes, and never if End runs first.
	RxOverruns uint64 // windows re-armed while a full window was still unread
	RxLost     uint64 // bytes overwritten before they were read

	// Transmit
	TxBytes uint64 // units completed by the hardware
	TxUnits uint64 // SendUnit requests issued

	// Line errors reported by the hardware
	ErrParity   uint64
	ErrFraming  uint64
	ErrOverflow uint64

	HardwareFaults uint64
	SpuriousEvents uint64 // events with no matching state (e.g. TxComplete while stopped)
}

type counters struct {
	rxBytes, rxWindows, rxOverruns     atomic.Uint64
	rxLost                             atomic.Uint64
	txBytes, txUnits                   atomic.Uint64
	errParity, errFraming, errOverflow atomic.Uint64
	hardwareFaults, spuriousEvents     atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		RxBytes:    c.rxBytes.Load(),
		RxWindows:  c.rxWindows.Load(),
		RxOverruns: c.rxOverruns.Load(),
		RxLost:     c.rxLost.Load(),

		TxBytes: c.txBytes.Load(),
		TxUnits: c.txUnits.Load(),

		ErrParity:   c.errParity.Load(),
		ErrFraming:  c.errFraming.Load(),
		ErrOverflow: c.errOverflow.Load(),

		HardwareFaults: c.hardwareFaults.Load(),
		SpuriousEvents: c.spuriousEvents.Load(),
	}
}

func (c *counters) reset() {
	for _, v := range []*atomic.Uint64{
		&c.rxBytes, &c.rxWindows, &c.rxOverruns, &c.rxLost,
		&c.txBytes, &c.txUnits,
		&c.errParity, &c.errFraming, &c.errOverflow,
		&c.hardwareFaults, &c.spuriousEvents,
	} {
		v.Store(0)
	}
}

// Stats returns a copy of the channel counters.
func (c *Channel) Stats() Stats { return c.stats.snapshot() }

// ResetStats zeroes the channel counters.
func (c *Channel) ResetStats() { c.stats.reset() }
