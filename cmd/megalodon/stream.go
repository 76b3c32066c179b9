package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	megalodon "github.com/h3poteto/megalodon-sub000"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	streamEventStream bool
	streamMetricsAddr string
)

func init() {
	streamCmd.Flags().BoolVar(&streamEventStream, "event-stream", false, "use server-sent events instead of WebSocket (mastodon only)")
	streamCmd.Flags().StringVar(&streamMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	rootCmd.AddCommand(streamCmd)
}

var streamCmd = &cobra.Command{
	Use:   "stream <timeline>...",
	Short: "Print timeline events as JSON lines",
	Long: `Subscribe to one or more timelines and print every event as one JSON object per line.

Timelines: user, public, local, direct, hashtag:<tag>, hashtag:local:<tag>, list:<id>.
Streams reconnect on their own; press Ctrl-C to stop.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		timelines := make([]megalodon.Timeline, 0, len(args))
		for _, arg := range args {
			tl, err := parseTimeline(arg)
			if err != nil {
				return err
			}
			timelines = append(timelines, tl)
		}

		logger, err := newLogger(logLevel)
		if err != nil {
			return err
		}
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics, err := megalodon.NewMetrics(reg)
		if err != nil {
			return err
		}

		opts := []megalodon.ClientOption{megalodon.WithLogger(logger), megalodon.WithMetrics(metrics)}
		if streamEventStream {
			opts = append(opts, megalodon.WithEventStream(true))
		}
		client, err := getClient(opts...)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, gctx := errgroup.WithContext(ctx)
		if streamMetricsAddr != "" {
			srv := &http.Server{
				Addr:              streamMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				logger.Info("serving metrics", "addr", streamMetricsAddr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}

		out := newLineWriter(cmd.OutOrStdout())
		for _, tl := range timelines {
			s := client.Stream(tl)
			g.Go(func() error { return runStream(gctx, s, out) })
		}
		return g.Wait()
	},
}

// runStream prints the events of s until ctx is done or the stream closes
// for good. A failing output stops the stream.
func runStream(ctx context.Context, s *megalodon.Stream, out *lineWriter) error {
	var (
		mu      sync.Mutex
		lastErr error
	)
	final := make(chan error, 1)

	for _, kind := range []megalodon.EventKind{
		megalodon.KindUpdate, megalodon.KindStatusUpdate, megalodon.KindNotification,
		megalodon.KindConversation, megalodon.KindDelete, megalodon.KindConnect,
		megalodon.KindReconnect,
	} {
		s.On(kind, func(ev megalodon.Event) { out.write(s.Name(), ev) })
	}
	s.OnError(func(err error) {
		mu.Lock()
		lastErr = err
		mu.Unlock()
		out.write(s.Name(), errorLine{Error: err.Error(), Class: megalodon.ClassOf(err).String()})
	})
	s.On(megalodon.KindClose, func(ev megalodon.Event) {
		out.write(s.Name(), ev)
		if !ev.(megalodon.CloseEvent).Final {
			return
		}
		mu.Lock()
		err := lastErr
		mu.Unlock()
		select {
		case final <- err:
		default:
		}
	})

	s.Start()
	select {
	case <-ctx.Done():
		s.Stop()
		return nil
	case <-out.Broken():
		s.Stop()
		return out.Err()
	case err := <-final:
		if err != nil {
			return fmt.Errorf("%s: %w", s.Name(), err)
		}
		return nil
	}
}

type errorLine struct {
	Error string `json:"error"`
	Class string `json:"class"`
}

type line struct {
	Stream string `json:"stream"`
	Event  string `json:"event"`
	Data   any    `json:"data,omitempty"`
}

// lineWriter serializes JSON lines from concurrent streams. The first write
// error is kept and closes Broken.
type lineWriter struct {
	mu     sync.Mutex
	enc    *json.Encoder
	err    error
	broken chan struct{}
}

func newLineWriter(w io.Writer) *lineWriter {
	return &lineWriter{enc: json.NewEncoder(w), broken: make(chan struct{})}
}

func (w *lineWriter) write(stream string, v any) {
	l := line{Stream: stream}
	switch ev := v.(type) {
	case errorLine:
		l.Event, l.Data = string(megalodon.KindError), ev
	case megalodon.Event:
		l.Event, l.Data = string(ev.Kind()), eventData(ev)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return
	}
	if err := w.enc.Encode(l); err != nil {
		w.err = fmt.Errorf("write output: %w", err)
		close(w.broken)
	}
}

// Broken is closed once a write has failed.
func (w *lineWriter) Broken() <-chan struct{} { return w.broken }

// Err returns the first write error.
func (w *lineWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func eventData(ev megalodon.Event) any {
	switch e := ev.(type) {
	case megalodon.UpdateEvent:
		return e.Status
	case megalodon.StatusUpdateEvent:
		return e.Status
	case megalodon.NotificationEvent:
		return e.Notification
	case megalodon.ConversationEvent:
		return e.Conversation
	case megalodon.DeleteEvent:
		return map[string]string{"id": e.ID}
	case megalodon.CloseEvent:
		return map[string]any{"code": e.Code, "reason": e.Reason, "final": e.Final}
	case megalodon.ReconnectEvent:
		return map[string]any{"attempt": e.Attempt, "delay": e.Delay.String(), "failure": e.Failure.String()}
	default:
		return nil
	}
}
