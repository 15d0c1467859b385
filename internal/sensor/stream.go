// Package sensor reads accelerometer samples from a line-oriented serial
// device and fans them out to subscribers.
package sensor

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"tailscale.com/tsweb"

	"github.com/banshee-data/rangefinder/internal/httputil"
	"github.com/banshee-data/rangefinder/internal/inclination"
	"github.com/banshee-data/rangefinder/internal/monitoring"
)

// Source is a push stream of accelerometer samples.
type Source interface {
	// Supported reports whether the device has an accelerometer at all.
	Supported() bool
	// Subscribe returns a channel that always offers the most recent sample.
	// The channel ID is used to identify the unique channel when
	// unsubscribing.
	Subscribe() (string, <-chan inclination.Sample)
	// Unsubscribe removes a channel from the list of subscribers.
	Unsubscribe(string)
	// Monitor reads lines from the device until ctx is done or the device
	// closes.
	Monitor(context.Context) error
	// Close closes all subscribed channels and the device.
	Close() error
	// AttachAdminRoutes mounts debugging endpoints under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// Stats counts lines seen by Monitor.
type Stats struct {
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
}

// Stream multiplexes one accelerometer port to many subscribers.
type Stream[T Porter] struct {
	port         T
	subscribers  map[string]chan inclination.Sample
	subscriberMu sync.Mutex
	closing      atomic.Bool
	received     atomic.Uint64
	dropped      atomic.Uint64
}

// NewStream creates a Stream over an open port.
func NewStream[T Porter](port T) *Stream[T] {
	return &Stream[T]{
		port:        port,
		subscribers: make(map[string]chan inclination.Sample),
	}
}

func (s *Stream[T]) Supported() bool { return true }

func (s *Stream[T]) Subscribe() (string, <-chan inclination.Sample) {
	id := uuid.NewString()
	ch := make(chan inclination.Sample, 1)
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if s.closing.Load() {
		close(ch)
		return id, ch
	}
	s.subscribers[id] = ch
	return id, ch
}

func (s *Stream[T]) Unsubscribe(id string) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

// Stats returns the line counters.
func (s *Stream[T]) Stats() Stats {
	return Stats{Received: s.received.Load(), Dropped: s.dropped.Load()}
}

// Monitor scans the port and publishes each parsed sample.
func (s *Stream[T]) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(s.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// the blocking scan.Scan runs in its own goroutine so the loop below can
	// still observe ctx.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			if s.closing.Load() {
				return nil
			}
			return err

		case line, ok := <-lineChan:
			if !ok {
				return nil
			}
			if s.closing.Load() {
				return nil
			}
			s.received.Add(1)
			sample, err := ParseSample(line)
			if err != nil {
				s.dropped.Add(1)
				monitoring.Debugf("sensor: dropping line %q: %v", line, err)
				continue
			}
			s.publish(sample)
		}
	}
}

// publish hands sample to every subscriber. A subscriber that has not read the
// previous sample gets it replaced, so readers only ever see the latest.
func (s *Stream[T]) publish(sample inclination.Sample) {
	s.subscriberMu.Lock()
	defer s.subscriberMu.Unlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- sample:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- sample:
		default:
		}
	}
}

func (s *Stream[T]) Close() error {
	s.closing.Store(true)

	s.subscriberMu.Lock()
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	s.subscriberMu.Unlock()
	return s.port.Close()
}

func (s *Stream[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("sensor", "accelerometer line counters", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Stats())
	})

	// Server-Sent Events of parsed samples and their tilt.
	debug.HandleSilentFunc("sensor-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			httputil.MethodNotAllowed(w)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			httputil.InternalServerError(w, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case sample, ok := <-c:
				if !ok {
					return
				}
				angle, _ := inclination.Angle(sample)
				_, err := fmt.Fprintf(w, "data: {\"x\":%g,\"y\":%g,\"z\":%g,\"degrees\":%.2f}\n\n",
					sample.X, sample.Y, sample.Z, inclination.Degrees(angle))
				if err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
