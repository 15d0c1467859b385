package sensor

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/banshee-data/rangefinder/internal/inclination"
)

// Disabled is the Source used when the device has no accelerometer. It never
// produces samples, but tracks subscribers so their channels close
// deterministically on Unsubscribe or Close.
type Disabled struct {
	mu          sync.Mutex
	subscribers map[string]chan inclination.Sample
	closing     bool
}

func NewDisabled() *Disabled {
	return &Disabled{
		subscribers: make(map[string]chan inclination.Sample),
	}
}

func (d *Disabled) Supported() bool { return false }

func (d *Disabled) Subscribe() (string, <-chan inclination.Sample) {
	id := uuid.NewString()
	ch := make(chan inclination.Sample)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *Disabled) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

func (d *Disabled) Monitor(ctx context.Context) error { <-ctx.Done(); return ctx.Err() }

func (d *Disabled) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closing {
		return nil
	}
	d.closing = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *Disabled) AttachAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/debug/sensor-disabled", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("accelerometer disabled"))
	})
}
