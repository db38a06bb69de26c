package sciuart

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	rxBytesDesc = prometheus.NewDesc("sciuart_rx_bytes_total",
		"Bytes read by the application.", []string{"channel"}, nil)
	rxOverrunsDesc = prometheus.NewDesc("sciuart_rx_overruns_total",
		"Receive windows re-armed over unread data.", []string{"channel"}, nil)
	rxLostDesc = prometheus.NewDesc("sciuart_rx_lost_bytes_total",
		"Received bytes overwritten before they were read.", []string{"channel"}, nil)
	txBytesDesc = prometheus.NewDesc("sciuart_tx_bytes_total",
		"Bytes transmitted by the hardware.", []string{"channel"}, nil)
	lineErrorsDesc = prometheus.NewDesc("sciuart_line_errors_total",
		"Line errors reported by the hardware.", []string{"channel", "kind"}, nil)
	faultsDesc = prometheus.NewDesc("sciuart_hardware_faults_total",
		"Hardware faults recorded.", []string{"channel"}, nil)
	readyDesc = prometheus.NewDesc("sciuart_channel_ready",
		"1 if the channel is open and usable.", []string{"channel"}, nil)
	droppedDesc = prometheus.NewDesc("sciuart_dropped_events_total",
		"Hardware events for channels that are not registered.", nil, nil)
)

// Collector exports the counters of every channel in a Registry.
type Collector struct {
	reg *Registry
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector over reg.
func NewCollector(reg *Registry) *Collector {
	return &Collector{reg: reg}
}

// Describe implements prometheus.Collector.
func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		rxBytesDesc, rxOverrunsDesc, rxLostDesc, txBytesDesc,
		lineErrorsDesc, faultsDesc, readyDesc, droppedDesc,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (col *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for _, c := range col.reg.Channels() {
		id := strconv.Itoa(c.ID())
		s := c.Stats()
		counter(rxBytesDesc, s.RxBytes, id)
		counter(rxOverrunsDesc, s.RxOverruns, id)
		counter(rxLostDesc, s.RxLost, id)
		counter(txBytesDesc, s.TxBytes, id)
		counter(lineErrorsDesc, s.ErrParity, id, EventParityError.String())
		counter(lineErrorsDesc, s.ErrFraming, id, EventFramingError.String())
		counter(lineErrorsDesc, s.ErrOverflow, id, EventOverflowError.String())
		counter(faultsDesc, s.HardwareFaults, id)

		ready := 0.0
		if c.Ready() {
			ready = 1
		}
		ch <- prometheus.MustNewConstMetric(readyDesc, prometheus.GaugeValue, ready, id)
	}
	counter(droppedDesc, col.reg.DroppedEvents())
}
