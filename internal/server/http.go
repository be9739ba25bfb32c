package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"levelbook/internal/book"
	"levelbook/internal/config"
	"levelbook/internal/state"
)

// Resubscriber switches the service to a new subscription: the current book
// is torn down and a fresh one attached. Wired in by main.
type Resubscriber func(symbol, source string, levels int) error

// Unsubscriber tears down the active book without attaching a new one.
type Unsubscriber func()

type HTTPServer struct {
	cfg   config.Config
	st    *state.State
	hub   *hub
	log   *slog.Logger
	mux   *http.ServeMux
	resub Resubscriber
	unsub Unsubscriber
}

func NewHTTPServer(cfg config.Config, st *state.State, resub Resubscriber, unsub Unsubscriber, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:   cfg,
		st:    st,
		hub:   newHub(logger),
		log:   logger,
		mux:   http.NewServeMux(),
		resub: resub,
		unsub: unsub,
	}
	s.routes()
	go s.hub.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// wireLevel renders a price level for the wire: the float price goes out as
// a quoted decimal string with the shortest digits that round-trip to the
// same float64.
type wireLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  float64         `json:"size"`
	Time  int64           `json:"time"`
}

type wireBook struct {
	Asks []wireLevel `json:"asks"`
	Bids []wireLevel `json:"bids"`
}

type wireChanges struct {
	Additions wireBook `json:"additions"`
	Updates   wireBook `json:"updates"`
	Removals  wireBook `json:"removals"`
}

func toWireLevels(levels []book.PriceLevel) []wireLevel {
	out := make([]wireLevel, 0, len(levels))
	for _, pl := range levels {
		out = append(out, wireLevel{
			Price: decimal.NewFromFloat(pl.Price),
			Size:  pl.Size,
			Time:  pl.Time,
		})
	}
	return out
}

func toWireBook(set book.PriceLevelSet) wireBook {
	return wireBook{Asks: toWireLevels(set.Asks), Bids: toWireLevels(set.Bids)}
}

func toWireChanges(cs book.ChangeSet) wireChanges {
	return wireChanges{
		Additions: toWireBook(cs.Additions),
		Updates:   toWireBook(cs.Updates),
		Removals:  toWireBook(cs.Removals),
	}
}

// --------- WS broadcasts ----------

func (s *HTTPServer) BroadcastStatus() {
	msg := map[string]any{
		"connected": s.st.Connected(),
		"symbol":    s.st.Symbol(),
		"source":    s.st.Source(),
	}
	s.hub.broadcast <- marshalWS("status", msg)
}

// BroadcastNewBook pushes the full visible window after a snapshot reset.
func (s *HTTPServer) BroadcastNewBook(set book.PriceLevelSet) {
	s.hub.broadcast <- marshalWS("new_book", toWireBook(set))
}

// BroadcastBook pushes the full top-N view after an incremental batch.
func (s *HTTPServer) BroadcastBook(set book.PriceLevelSet) {
	s.hub.broadcast <- marshalWS("book", toWireBook(set))
}

// BroadcastChanges pushes the per-batch incremental change-set.
func (s *HTTPServer) BroadcastChanges(cs book.ChangeSet) {
	s.hub.broadcast <- marshalWS("changes", toWireChanges(cs))
}

func (s *HTTPServer) BroadcastError(msg string) {
	s.hub.broadcast <- marshalWS("error", map[string]string{"message": msg})
}

// --------- Routes ----------

func (s *HTTPServer) routes() {
	// WS
	s.mux.HandleFunc("/ws", s.hub.serveWS)

	// API
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/status", s.apiStatus)
	s.mux.HandleFunc("/api/book", s.apiBook)
	s.mux.HandleFunc("/api/subscribe", s.apiSubscribe)
	s.mux.HandleFunc("/api/unsubscribe", s.apiUnsubscribe)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"ok":        true,
		"connected": s.st.Connected(),
	})
}

func (s *HTTPServer) apiStatus(w http.ResponseWriter, r *http.Request) {
	_, at := s.st.Book()
	writeJSON(w, map[string]any{
		"connected":  s.st.Connected(),
		"symbol":     s.st.Symbol(),
		"source":     s.st.Source(),
		"levels":     s.cfg.Levels,
		"batches":    s.st.Batches(),
		"lastUpdate": at.UTC().Format(time.RFC3339Nano),
	})
}

func (s *HTTPServer) apiBook(w http.ResponseWriter, r *http.Request) {
	set, at := s.st.Book()
	writeJSON(w, map[string]any{
		"symbol":     s.st.Symbol(),
		"source":     s.st.Source(),
		"book":       toWireBook(set),
		"lastUpdate": at.UTC().Format(time.RFC3339Nano),
	})
}

// POST /api/subscribe { "symbol": "...", "source": "...", "levels": 10 }
func (s *HTTPServer) apiSubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	type reqT struct {
		Symbol string `json:"symbol"`
		Source string `json:"source,omitempty"`
		Levels *int   `json:"levels,omitempty"`
	}
	var req reqT
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	sym := strings.ToUpper(strings.TrimSpace(req.Symbol))
	if sym == "" {
		http.Error(w, "symbol required", http.StatusBadRequest)
		return
	}
	source := req.Source
	if source == "" {
		source = s.st.Source()
	}
	levels := s.cfg.Levels
	if req.Levels != nil {
		if *req.Levels < 0 {
			http.Error(w, "levels must be >= 0", http.StatusBadRequest)
			return
		}
		levels = *req.Levels
	}

	if s.resub == nil {
		http.Error(w, "resubscription not supported", http.StatusNotImplemented)
		return
	}
	if err := s.resub(sym, source, levels); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		s.BroadcastError(err.Error())
		return
	}
	s.st.SetSubscription(sym, source)
	s.BroadcastStatus()
	writeJSON(w, map[string]any{"ok": true, "symbol": sym, "source": source, "levels": levels})
}

// POST /api/unsubscribe
func (s *HTTPServer) apiUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.st.SetSubscription("", s.st.Source())
	s.BroadcastStatus()
	writeJSON(w, map[string]any{"ok": true})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
