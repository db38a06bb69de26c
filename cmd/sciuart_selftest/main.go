// Command sciuart_selftest exercises a sciuart channel end to end. Without
// -port it runs over the simulated hardware layer with TX looped back into
// RX; with -port it opens a host serial device, which needs a TX->RX jumper.
package main

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/jangala-dev/tinygo-sciuart/sciuart"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/serialhal"
	"github.com/jangala-dev/tinygo-sciuart/sciuart/simhal"
)

const lineEnding = "\r\n"

func main() {
	port := flag.String("port", "", "serial device with TX wired to RX (empty: simulated loopback)")
	baud := flag.Uint("baud", 115200, "baud rate")
	frameStr := flag.String("frame", "8N1", "character frame, e.g. 8N1, 8E2")
	rxSize := flag.Int("rxbuf", 8192, "receive window size (power of two)")
	txSize := flag.Int("txbuf", sciuart.DefaultBufferSize, "transmit ring size (power of two)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := zapcore.InfoLevel
	if *verbose {
		level = zapcore.DebugLevel
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	log, err := cfg.Build()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("run", uuid.NewString()))

	frame, err := sciuart.ParseFrame(*frameStr)
	if err != nil {
		log.Fatal("bad -frame", zap.Error(err))
	}

	var hal sciuart.HAL
	if *port == "" {
		// One character time per unit, like the real line.
		charTime := time.Duration(frame.BitsPerChar()) * time.Second / time.Duration(*baud)
		sim := simhal.New(simhal.WithUnitDelay(charTime), simhal.WithLogger(log))
		sim.Loopback(0, 0)
		hal = sim
		log.Info("using simulated loopback", zap.Duration("char_time", charTime))
	} else {
		hal = serialhal.New(map[int]string{0: *port}, serialhal.WithLogger(log))
		log.Info("using serial port", zap.String("port", *port))
	}

	reg := sciuart.NewRegistry(hal, log)
	ch, err := reg.NewChannel(0,
		sciuart.WithRxBufferSize(*rxSize),
		sciuart.WithTxBufferSize(*txSize),
		sciuart.WithLineErrorHandler(func(id int, kind sciuart.EventKind) {
			log.Warn("line error", zap.Int("channel", id), zap.Stringer("kind", kind))
		}))
	if err != nil {
		log.Fatal("channel", zap.Error(err))
	}
	if err := ch.Begin(uint32(*baud), frame); err != nil {
		log.Fatal("begin", zap.Error(err))
	}

	st := &selftest{ch: ch, log: log}
	st.runAll()

	if err := reg.Close(); err != nil {
		log.Error("close", zap.Error(err))
	}
	s := ch.Stats()
	log.Info("summary",
		zap.Int("passed", st.pass),
		zap.Int("failed", st.fail),
		zap.Uint64("tx_bytes", s.TxBytes),
		zap.Uint64("rx_bytes", s.RxBytes),
		zap.Uint64("rx_overruns", s.RxOverruns),
		zap.Uint64("hardware_faults", s.HardwareFaults))
	if st.fail > 0 {
		os.Exit(1)
	}
}

type selftest struct {
	ch         *sciuart.Channel
	log        *zap.Logger
	pass, fail int
}

func (st *selftest) run(name string, timeout time.Duration, f func(ctx context.Context) error) {
	drain(st.ch)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	start := time.Now()
	if err := f(ctx); err != nil {
		st.fail++
		st.log.Error("FAIL", zap.String("test", name), zap.Error(err))
		return
	}
	st.pass++
	st.log.Info("PASS", zap.String("test", name), zap.Duration("took", time.Since(start)))
}

func (st *selftest) runAll() {
	ch := st.ch

	st.run("notify: initial Writable after Begin", 750*time.Millisecond, func(ctx context.Context) error {
		select {
		case <-ch.Writable():
		case <-ctx.Done():
			return errors.New("no initial Writable")
		}
		return echo(ctx, ch, []byte("X"))
	})

	st.run("sanity: short loopback", time.Second, func(ctx context.Context) error {
		return echo(ctx, ch, []byte("hello, sciuart"+lineEnding))
	})

	st.run("blocking: ReadByteContext waits for a single byte", time.Second, func(ctx context.Context) error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			time.Sleep(20 * time.Millisecond)
			return ch.WriteByteContext(ctx, 'Z')
		})
		var got byte
		g.Go(func() (err error) {
			got, err = ch.ReadByteContext(ctx)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}
		if got != 'Z' {
			return fmt.Errorf("got %q, want 'Z'", got)
		}
		return nil
	})

	st.run("timeout: no data within 200ms", time.Second, func(context.Context) error {
		n, err := ch.ReadWithTimeout(make([]byte, 8), 200*time.Millisecond)
		if !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("read %d bytes, err %v; want deadline", n, err)
		}
		return nil
	})

	st.run("framing: two lines", time.Second, func(ctx context.Context) error {
		return echo(ctx, ch, []byte("first line\r\nsecond line\n"))
	})

	st.run("flush: line idle after Flush", time.Second, func(ctx context.Context) error {
		if _, err := ch.WriteContext(ctx, []byte{0x48, 0x49}); err != nil {
			return err
		}
		if err := ch.FlushContext(ctx); err != nil {
			return err
		}
		if ch.Sending() {
			return errors.New("unit still in flight after Flush")
		}
		got := make([]byte, 2)
		if _, err := ch.ReadFullContext(ctx, got); err != nil {
			return err
		}
		if !bytes.Equal(got, []byte{0x48, 0x49}) {
			return fmt.Errorf("got % x", got)
		}
		return nil
	})

	st.run("binary: 4 KiB integrity (SHA-1)", 5*time.Second, func(ctx context.Context) error {
		src := pattern(4 * 1024)
		got, err := transfer(ctx, ch, src)
		if err != nil {
			return err
		}
		if sha1.Sum(got) != sha1.Sum(src) {
			return errors.New("hash mismatch")
		}
		return nil
	})

	st.run("throughput: 16 KiB", 30*time.Second, func(ctx context.Context) error {
		src := pattern(16 * 1024)
		start := time.Now()
		got, err := transfer(ctx, ch, src)
		if err != nil {
			return err
		}
		if !bytes.Equal(got, src) {
			return errors.New("mismatch")
		}
		elapsed := time.Since(start)
		st.log.Info("throughput",
			zap.Float64("kbps", float64(len(src)*8)/elapsed.Seconds()/1000),
			zap.Duration("elapsed", elapsed))
		return nil
	})
}

// echo writes p and reads it back.
func echo(ctx context.Context, ch *sciuart.Channel, p []byte) error {
	if _, err := ch.WriteContext(ctx, p); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got := make([]byte, len(p))
	if _, err := ch.ReadFullContext(ctx, got); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(got, p) {
		return fmt.Errorf("got %q, want %q", got, p)
	}
	return nil
}

// transfer sends src while concurrently reading the same number of bytes back.
func transfer(ctx context.Context, ch *sciuart.Channel, src []byte) ([]byte, error) {
	got := make([]byte, len(src))
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := ch.WriteContext(ctx, src)
		return err
	})
	g.Go(func() error {
		_, err := ch.ReadFullContext(ctx, got)
		return err
	})
	return got, g.Wait()
}

func pattern(n int) []byte {
	src := make([]byte, n)
	var x uint32 = 0x12345678
	for i := range src {
		x = 1664525*x + 1013904223
		src[i] = byte(x >> 24)
	}
	return src
}

func drain(ch *sciuart.Channel) {
	var tmp [64]byte
	for ch.TryRead(tmp[:]) > 0 {
	}
}
