package modforge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DevServer is the watch-mode status server: an SSE event stream for build
// and reload notifications plus JSON views of the catalog and recent builds.
type DevServer struct {
	builder *Builder
	port    int

	lock    sync.Mutex
	senders map[int]chan interface{}
	nextID  int
}

func NewDevServer(builder *Builder, port int) *DevServer {
	return &DevServer{
		builder: builder,
		port:    port,
		senders: map[int]chan interface{}{},
	}
}

type pingEvent struct {
	Type string `json:"type"`
}

// NotifyBuild pushes a rebuild outcome to every connected client.
func (s *DevServer) NotifyBuild(ev WatchEvent) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, sender := range s.senders {
		select {
		case sender <- ev:
		default:
		}
	}
}

// Serve runs the status server until ctx is cancelled, then shuts it down.
func (s *DevServer) Serve(ctx context.Context) error {
	go s.pingLoop(ctx)

	srv := &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 200 * time.Millisecond,
		Addr:              fmt.Sprintf(":%d", s.port),
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// pingLoop keeps idle SSE connections alive.
func (s *DevServer) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.lock.Lock()
			for _, sender := range s.senders {
				select {
				case sender <- pingEvent{Type: "ping"}:
				default:
				}
			}
			s.lock.Unlock()
		}
	}
}

func (s *DevServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)

	r.Get("/events", func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported!", http.StatusInternalServerError)
			return
		}

		s.lock.Lock()
		currentID := s.nextID
		c := make(chan interface{}, 10)
		s.senders[currentID] = c
		s.nextID++
		s.lock.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		encoder := json.NewEncoder(w)
		defer func() {
			s.lock.Lock()
			defer s.lock.Unlock()
			delete(s.senders, currentID)
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev := <-c:
				if _, err := w.Write([]byte("data: ")); err != nil {
					return
				}
				if err := encoder.Encode(ev); err != nil {
					return
				}
				if _, err := w.Write([]byte("\n\n")); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	r.Get("/plugins", func(w http.ResponseWriter, r *http.Request) {
		type pluginView struct {
			Name       string   `json:"name"`
			Path       string   `json:"path"`
			Parents    []string `json:"parents,omitempty"`
			HasUIEntry bool     `json:"hasUiEntry"`
			Files      int      `json:"files"`
		}
		var views []pluginView
		if catalog := s.builder.Catalog(); catalog != nil {
			for _, p := range catalog.Plugins() {
				views = append(views, pluginView{
					Name:       p.Name,
					Path:       p.RelRoot,
					Parents:    p.Parents,
					HasUIEntry: p.HasUIEntry,
					Files:      len(p.Files),
				})
			}
		}
		w.Header().Add("Content-type", "application/json")
		w.Header().Add("Cache-control", "no-store")
		if err := json.NewEncoder(w).Encode(views); err != nil {
			logger.Warn("encode plugins response", "error", err)
		}
	})

	r.Get("/builds", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Content-type", "application/json")
		w.Header().Add("Cache-control", "no-store")
		if err := json.NewEncoder(w).Encode(s.builder.History()); err != nil {
			logger.Warn("encode builds response", "error", err)
		}
	})

	return r
}
