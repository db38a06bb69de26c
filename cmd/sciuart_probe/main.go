// Command sciuart_probe streams a byte pattern through a looped-back channel
// and reports the driver counters, both on the log and as prometheus metrics.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/serialhal"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/simhal"
)

func main() {
	port := flag.String("port", "", "serial device with TX wired to RX (empty: simulated loopback)")
	baud := flag.Uint("baud", 115200, "baud rate")
	frameStr := flag.String("frame", "8N1", "character frame")
	chunk := flag.Int("chunk", 256, "bytes written per burst")
	interval := flag.Duration("interval", 100*time.Millisecond, "pause between bursts")
	report := flag.Duration("report", 2*time.Second, "stats log interval")
	metrics := flag.String("metrics", "", "listen address for /metrics (empty: disabled)")
	duration := flag.Duration("duration", 0, "stop after this long (0: until interrupted)")
	config := flag.String("config", "", "JSON serial port options; overrides -port, -baud and -frame")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	if *config != "" {
		opts, frame, err := loadPortOptions(*config)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}
		*port, *baud, *frameStr = opts.Path, uint(opts.BaudRate), frame.String()
	}

	if err := run(log, *port, uint32(*baud), *frameStr, *chunk, *interval, *report, *metrics, *duration); err != nil {
		log.Fatal("probe failed", zap.Error(err))
	}
}

func run(log *zap.Logger, port string, baud uint32, frameStr string, chunk int,
	interval, report time.Duration, metricsAddr string, duration time.Duration) error {
	frame, err := sciuart.ParseFrame(frameStr)
	if err != nil {
		return err
	}

	var hal sciuart.HAL
	if port == "" {
		sim := simhal.New(simhal.WithUnitDelay(
			time.Duration(frame.BitsPerChar())*time.Second/time.Duration(baud)), simhal.WithLogger(log))
		sim.Loopback(0, 0)
		hal = sim
	} else {
		hal = serialhal.New(map[int]string{0: port}, serialhal.WithLogger(log))
	}

	reg := sciuart.NewRegistry(hal, log)
	defer func() {
		if err := reg.Close(); err != nil {
			log.Error("close", zap.Error(err))
		}
	}()
	ch, err := reg.NewChannel(0, sciuart.WithRxBufferSize(4096))
	if err != nil {
		return err
	}
	if err := ch.Begin(baud, frame); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)

	if metricsAddr != "" {
		promReg := prometheus.NewRegistry()
		promReg.MustRegister(sciuart.NewCollector(reg))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("serving metrics", zap.String("addr", metricsAddr))
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	// Writer: bursts of an incrementing pattern.
	g.Go(func() error {
		buf := make([]byte, chunk)
		var next byte
		for {
			for i := range buf {
				buf[i] = next
				next++
			}
			if _, err := ch.WriteContext(ctx, buf); err != nil {
				return ignoreDone(ctx, err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(interval):
			}
		}
	})

	// Reader: checks the pattern continues without gaps.
	var mismatches uint64
	g.Go(func() error {
		buf := make([]byte, 512)
		var want byte
		synced := false
		for {
			n, err := ch.ReadSomeContext(ctx, buf)
			if err != nil {
				return ignoreDone(ctx, err)
			}
			for _, b := range buf[:n] {
				if synced && b != want {
					mismatches++
				}
				want, synced = b+1, true
			}
		}
	})

	g.Go(func() error {
		t := time.NewTicker(report)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				logStats(log, ch)
			}
		}
	})

	err = g.Wait()
	logStats(log, ch)
	log.Info("probe done", zap.Uint64("pattern_mismatches", mismatches))
	return err
}

func logStats(log *zap.Logger, ch *sciuart.Channel) {
	s := ch.Stats()
	log.Info("stats",
		zap.Bool("ready", ch.Ready()),
		zap.Int("available", ch.Available()),
		zap.Uint64("rx_bytes", s.RxBytes),
		zap.Uint64("rx_windows", s.RxWindows),
		zap.Uint64("rx_overruns", s.RxOverruns),
		zap.Uint64("rx_lost", s.RxLost),
		zap.Uint64("tx_bytes", s.TxBytes),
		zap.Uint64("tx_units", s.TxUnits),
		zap.Uint64("err_parity", s.ErrParity),
		zap.Uint64("err_framing", s.ErrFraming),
		zap.Uint64("err_overflow", s.ErrOverflow),
		zap.Uint64("hardware_faults", s.HardwareFaults),
		zap.Uint64("spurious_events", s.SpuriousEvents))
}

func loadPortOptions(path string) (serialhal.PortOptions, sciuart.Frame, error) {
	var opts serialhal.PortOptions
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, sciuart.Frame{}, err
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, sciuart.Frame{}, fmt.Errorf("parse %s: %w", path, err)
	}
	opts, err = opts.Normalize()
	if err != nil {
		return opts, sciuart.Frame{}, err
	}
	frame, err := opts.Frame()
	if err != nil {
		return opts, sciuart.Frame{}, err
	}
	return opts, frame, nil
}

func ignoreDone(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}
