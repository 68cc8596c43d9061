// Package server exposes the pipeline over HTTP: a websocket endpoint that
// processes a directory of reports and streams one message per document,
// plus health and Prometheus endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmmb07/pdf-data-extraction-pipeline/internal/models"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/processor"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/scraper"
	"github.com/jmmb07/pdf-data-extraction-pipeline/pkg/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

// Message types.
const (
	TypeProcess  = "process"
	TypeSimilar  = "similar"
	TypeStatus   = "status"
	TypeDocument = "document"
	TypeDone     = "done"
	TypeResult   = "result"
	TypeError    = "error"
)

// DocumentSummary is the payload of a document message.
type DocumentSummary struct {
	Document   string `json:"document"`
	RefDate    string `json:"ref_date"`
	Tier       string `json:"tier"`
	Provenance string `json:"provenance"`
	Records    int    `json:"records"`
	Skipped    int    `json:"skipped"`
	Header     bool   `json:"header"`
	Error      string `json:"error,omitempty"`
}

// Summary is the payload of the done message.
type Summary struct {
	Documents int `json:"documents"`
	Failed    int `json:"failed"`
	Records   int `json:"records"`
}

// SimilarityFinder answers similar requests. It is optional.
type SimilarityFinder interface {
	Similar(ctx context.Context, indicator string, date time.Time, limit int) ([]store.Neighbor, error)
}

type Config struct {
	Addr string
	// RawDir is the root that process requests are resolved against.
	RawDir         string
	AllowedOrigins []string
	Processor      *processor.Processor
	Store          SimilarityFinder
	Logger         *slog.Logger
}

type WSServer struct {
	config   Config
	cors     *cors.Cors
	upgrader websocket.Upgrader
}

func NewWSServer(config Config) (*WSServer, error) {
	if config.Processor == nil {
		return nil, errors.New("server: processor is required")
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if len(config.AllowedOrigins) == 0 {
		config.AllowedOrigins = []string{"*"}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	c := cors.New(cors.Options{
		AllowedOrigins: config.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet},
	})

	s := &WSServer{config: config, cors: c}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return r.Header.Get("Origin") == "" || c.OriginAllowed(r)
		},
	}
	return s, nil
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return s.cors.Handler(mux)
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *WSServer) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.config.Logger.Info("starting server", slog.String("addr", s.config.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// conn serializes writes; gorilla connections allow one concurrent writer.
type conn struct {
	ws  *websocket.Conn
	mu  sync.Mutex
	log *slog.Logger
}

func (c *conn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.WriteJSON(msg); err != nil {
		c.log.Warn("error sending message", slog.Any("error", err))
	}
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &conn{ws: ws, log: s.config.Logger}
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.config.Logger.Debug("error reading message", slog.Any("error", err))
			}
			cancel()
			return
		}

		var msg Message
		if err := json.Unmarshal(message, &msg); err != nil {
			c.send(Message{Type: TypeError, Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, c, msg)
		}()
	}
}

func (s *WSServer) handleMessage(ctx context.Context, c *conn, msg Message) {
	switch msg.Type {
	case TypeProcess:
		s.process(ctx, c, msg.Content)
	case TypeSimilar:
		s.similar(ctx, c, msg.Content)
	default:
		c.send(Message{Type: TypeError, Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

// resolveDir keeps requested directories inside RawDir.
func (s *WSServer) resolveDir(requested string) string {
	return filepath.Join(s.config.RawDir, filepath.Clean("/"+requested))
}

func (s *WSServer) process(ctx context.Context, c *conn, requested string) {
	dir := s.resolveDir(requested)
	docs, err := scraper.LocalSource{Dir: dir, Logger: s.config.Logger}.ListDocuments(ctx)
	if err != nil {
		c.send(Message{Type: TypeError, Content: fmt.Sprintf("failed to list documents: %v", err)})
		return
	}
	c.send(Message{Type: TypeStatus, Content: fmt.Sprintf("Processing %d documents", len(docs))})

	ds, results := s.config.Processor.ProcessAll(ctx, docs, func(result models.DocumentResult, _ []models.IndicatorRecord) {
		c.send(Message{Type: TypeDocument, Content: filepath.Base(result.Document.Path), Data: summarize(result)})
	})

	summary := Summary{Documents: len(results), Records: ds.Len()}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
		}
	}
	c.send(Message{
		Type:    TypeDone,
		Content: fmt.Sprintf("Extracted %d records from %d documents", summary.Records, summary.Documents),
		Data:    summary,
	})
}

func summarize(result models.DocumentResult) DocumentSummary {
	summary := DocumentSummary{
		Document:   filepath.Base(result.Document.Path),
		RefDate:    result.Document.ReferenceDate.Format("2006-01-02"),
		Tier:       string(result.Tier),
		Provenance: result.Provenance.String(),
		Records:    result.Records,
		Skipped:    result.Stats.Skipped,
		Header:     result.Stats.HeaderFound,
	}
	if result.Err != nil {
		summary.Error = result.Err.Error()
	}
	return summary
}

// similar expects "<indicator> <YYYY-MM-DD>", the indicator may contain spaces.
func (s *WSServer) similar(ctx context.Context, c *conn, content string) {
	if s.config.Store == nil {
		c.send(Message{Type: TypeError, Content: "no database configured"})
		return
	}

	content = strings.TrimSpace(content)
	i := strings.LastIndex(content, " ")
	if i <= 0 {
		c.send(Message{Type: TypeError, Content: `expected "<indicator> <YYYY-MM-DD>"`})
		return
	}
	date, err := time.Parse("2006-01-02", content[i+1:])
	if err != nil {
		c.send(Message{Type: TypeError, Content: fmt.Sprintf("invalid date: %v", err)})
		return
	}

	neighbors, err := s.config.Store.Similar(ctx, strings.TrimSpace(content[:i]), date, 0)
	if err != nil {
		c.send(Message{Type: TypeError, Content: err.Error()})
		return
	}
	c.send(Message{Type: TypeResult, Content: fmt.Sprintf("%d similar reports", len(neighbors)), Data: neighbors})
}
