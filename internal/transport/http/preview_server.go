// Package httpserver handles all message traffic between preview sessions
// and browser tabs.
package httpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/preview"
	"go-live-preview/internal/render"

	"github.com/gorilla/websocket"
	"github.com/tliron/commonlog"
)

// ErrServerStopped is returned once the run loop has exited.
var ErrServerStopped = errors.New("preview server stopped")

var log = commonlog.GetLogger("go-live-preview.http")

// Dispatcher runs functions on the goroutine that owns preview state.
type Dispatcher interface {
	Post(fn func()) error
}

type claimRequest struct {
	panel *Panel
	title string
}

type presentRequest struct {
	owner string
	slot  preview.Slot
	title string
	html  string
	opts  preview.Options
}

type postRequest struct {
	owner string
	slot  preview.Slot
	kind  string
	raw   []byte
}

type releaseRequest struct {
	owner string
	slot  preview.Slot
}

type connEvent struct {
	slot preview.Slot
	conn *websocket.Conn
}

type inboundMessage struct {
	slot preview.Slot
	conn *websocket.Conn
	raw  []byte
}

// SlotInfo describes one occupied slot.
type SlotInfo struct {
	Slot      preview.Slot
	Title     string
	Rev       uint64
	Connected bool
}

type pageSnapshot struct {
	found bool
	html  string
	opts  preview.Options
}

type pageRequest struct {
	slot  preview.Slot
	reply chan pageSnapshot
}

type rootsRequest struct {
	reply chan []string
}

type slotsRequest struct {
	reply chan []SlotInfo
}

// slotState is owned by the run loop.
type slotState struct {
	owner *Panel
	conn  *websocket.Conn

	render contracts.RenderMessage
	opts   preview.Options

	// retained keeps the last posted message of each kind for replay.
	retained map[string][]byte
	order    []string
}

// PreviewServer coordinates HTTP serving and WebSocket updates for every
// preview slot.
type PreviewServer struct {
	addr       string
	assets     *render.Assets
	dispatcher Dispatcher

	// OnReveal is invoked with a slot URL when a session asks to be shown.
	OnReveal func(url string)

	// updates carries panel requests in the order panels issued them.
	updates chan any

	register   chan connEvent
	unregister chan connEvent
	inbound    chan inboundMessage

	pages chan pageRequest
	roots chan rootsRequest
	slots chan slotsRequest

	startOnce sync.Once
	stopOnce  sync.Once
	stopLoop  chan struct{}

	upgrader websocket.Upgrader
}

// NewPreviewServer creates an HTTP/WebSocket preview server bound to addr.
// Browser events are delivered to panels through dispatcher.
func NewPreviewServer(addr string, assets *render.Assets, dispatcher Dispatcher) *PreviewServer {
	return &PreviewServer{
		addr:       addr,
		assets:     assets,
		dispatcher: dispatcher,

		updates: make(chan any, 32),

		register:   make(chan connEvent),
		unregister: make(chan connEvent),
		inbound:    make(chan inboundMessage, 64),

		pages: make(chan pageRequest),
		roots: make(chan rootsRequest),
		slots: make(chan slotsRequest),

		stopLoop: make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// URL returns the browser URL for the preview server.
func (m *PreviewServer) URL() string {
	return "http://" + m.addr
}

// SlotURL returns the browser URL for one slot.
func (m *PreviewServer) SlotURL(slot preview.Slot) string {
	return m.URL() + "/slot/" + strconv.Itoa(int(slot))
}

// Handler returns the routes served for previews.
func (m *PreviewServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", m.handleIndex)
	mux.HandleFunc("GET /slot/{slot}", m.handleSlot)
	mux.HandleFunc("GET /ws/{slot}", m.handleWS)
	mux.HandleFunc("GET /@mdfs/{id}", m.handleAsset)
	mux.HandleFunc("GET /static/{name}", m.handleStatic)
	return mux
}

// Start launches the run loop. It is safe to call more than once.
func (m *PreviewServer) Start() {
	m.startOnce.Do(func() {
		go m.runLoop()
	})
}

// Run serves HTTP on the configured address until ctx is cancelled.
func (m *PreviewServer) Run(ctx context.Context) error {
	m.Start()
	defer m.Stop()

	server := &http.Server{Addr: m.addr, Handler: m.Handler()}
	errs := make(chan error, 1)
	go func() {
		errs <- server.ListenAndServe()
	}()
	log.Infof("serving previews on %s", m.URL())

	select {
	case err := <-errs:
		return fmt.Errorf("serve %s: %w", m.addr, err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

// Stop closes every browser connection and ends the run loop.
func (m *PreviewServer) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopLoop)
	})
}

// Slots lists occupied slots in ascending order.
func (m *PreviewServer) Slots() ([]SlotInfo, error) {
	req := slotsRequest{reply: make(chan []SlotInfo, 1)}
	if err := send(m, m.slots, req); err != nil {
		return nil, err
	}
	return <-req.reply, nil
}

// send hands v to the run loop unless it has stopped.
func send[T any](m *PreviewServer, ch chan T, v T) error {
	select {
	case <-m.stopLoop:
		return ErrServerStopped
	default:
	}

	select {
	case ch <- v:
		return nil
	case <-m.stopLoop:
		return ErrServerStopped
	}
}

// handleIndex lists the occupied slots.
func (m *PreviewServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	slots, err := m.Slots()
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head><meta charset=\"utf-8\"><title>Previews</title>")
	b.WriteString("<link rel=\"stylesheet\" href=\"/static/preview.css\"></head>\n<body class=\"preview-body\">\n<ul>\n")
	for _, info := range slots {
		fmt.Fprintf(&b, "<li><a href=\"/slot/%d\">%d: %s</a></li>\n", info.Slot, info.Slot, html.EscapeString(info.Title))
	}
	b.WriteString("</ul>\n</body>\n</html>\n")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(b.String()))
}

// handleSlot serves the latest page presented in a slot, or the waiting
// shell when nothing has been presented yet.
func (m *PreviewServer) handleSlot(w http.ResponseWriter, r *http.Request) {
	slot, ok := parseSlot(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	req := pageRequest{slot: slot, reply: make(chan pageSnapshot, 1)}
	if err := send(m, m.pages, req); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	page := <-req.reply

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if !page.found || page.html == "" {
		_, _ = w.Write([]byte(render.RenderShell(slot)))
		return
	}
	if !page.opts.EnableScripts {
		w.Header().Set("Content-Security-Policy", "script-src 'none'")
	}
	_, _ = w.Write([]byte(page.html))
}

// handleWS upgrades the connection and forwards browser messages to the loop.
func (m *PreviewServer) handleWS(w http.ResponseWriter, r *http.Request) {
	slot, ok := parseSlot(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if err := send(m, m.register, connEvent{slot: slot, conn: conn}); err != nil {
		_ = conn.Close()
		return
	}
	defer func() {
		_ = send(m, m.unregister, connEvent{slot: slot, conn: conn})
	}()

	// Block here until the connection closes / errors outs
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := send(m, m.inbound, inboundMessage{slot: slot, conn: conn, raw: msg}); err != nil {
			return
		}
	}
}

// handleAsset serves local files referenced by previews. Only files under
// the local resource roots of a live slot are served.
func (m *PreviewServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	decoded, err := base64.RawURLEncoding.DecodeString(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	assetPath := filepath.Clean(string(decoded))
	if assetPath == "." || !filepath.IsAbs(assetPath) {
		http.NotFound(w, r)
		return
	}

	req := rootsRequest{reply: make(chan []string, 1)}
	if err := send(m, m.roots, req); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !withinRoots(assetPath, <-req.reply) {
		log.Debugf("refusing asset outside resource roots: %s", assetPath)
		http.NotFound(w, r)
		return
	}

	info, err := os.Stat(assetPath)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, assetPath)
}

func (m *PreviewServer) handleStatic(w http.ResponseWriter, r *http.Request) {
	asset, ok := m.assets.Lookup(r.PathValue("name"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", asset.ContentType)
	_, _ = w.Write(asset.Body)
}

// runLoop serializes slot state and websocket writes on a single goroutine.
func (m *PreviewServer) runLoop() {
	slots := make(map[preview.Slot]*slotState)

	lookup := func(slot preview.Slot) *slotState {
		s, ok := slots[slot]
		if !ok {
			s = &slotState{
				render:   contracts.RenderMessage{Type: contracts.MessageTypeRender},
				retained: make(map[string][]byte),
			}
			slots[slot] = s
		}
		return s
	}

	owned := func(slot preview.Slot, owner string) *slotState {
		s, ok := slots[slot]
		if !ok || s.owner == nil || s.owner.id != owner {
			return nil
		}
		return s
	}

	for {
		select {
		case update := <-m.updates:
			switch req := update.(type) {
			case claimRequest:
				s := lookup(req.panel.slot)
				s.owner = req.panel
				s.render.Title = req.title
				s.render.HTML = ""
				s.retained = make(map[string][]byte)
				s.order = nil

			case presentRequest:
				s := owned(req.slot, req.owner)
				if s == nil {
					continue
				}
				s.render.Rev++
				s.render.Title = req.title
				s.render.HTML = req.html
				s.opts = req.opts

				if s.conn != nil && !writeJSON(s.conn, s.render) {
					s.conn = nil
				}

			case postRequest:
				s := owned(req.slot, req.owner)
				if s == nil {
					continue
				}
				if _, seen := s.retained[req.kind]; !seen {
					s.order = append(s.order, req.kind)
				}
				s.retained[req.kind] = req.raw

				if s.conn == nil || s.render.Rev == 0 {
					continue
				}
				if !writeRaw(s.conn, req.raw) {
					s.conn = nil
				}

			case releaseRequest:
				s := owned(req.slot, req.owner)
				if s == nil {
					continue
				}
				if s.conn != nil {
					_ = s.conn.Close()
				}
				delete(slots, req.slot)
			}

		case ev := <-m.register:
			s := lookup(ev.slot)
			if s.conn != nil {
				_ = s.conn.Close()
			}
			s.conn = ev.conn

			if s.render.Rev == 0 {
				continue
			}
			if !writeJSON(s.conn, s.render) {
				s.conn = nil
				continue
			}
			for _, kind := range s.order {
				if !writeRaw(s.conn, s.retained[kind]) {
					s.conn = nil
					break
				}
			}

		case ev := <-m.unregister:
			s, ok := slots[ev.slot]
			if !ok || s.conn != ev.conn {
				_ = ev.conn.Close()
				continue
			}
			_ = s.conn.Close()
			s.conn = nil
			if s.owner != nil {
				m.dispatch(s.owner.hidden)
			}

		case msg := <-m.inbound:
			s, ok := slots[msg.slot]
			if !ok || s.owner == nil || s.conn != msg.conn {
				continue
			}
			panel, raw := s.owner, msg.raw
			m.dispatch(func() { panel.deliver(raw) })

		case req := <-m.pages:
			s, ok := slots[req.slot]
			if !ok {
				req.reply <- pageSnapshot{}
				continue
			}
			req.reply <- pageSnapshot{found: true, html: s.render.HTML, opts: s.opts}

		case req := <-m.roots:
			var roots []string
			for _, s := range slots {
				roots = append(roots, s.opts.LocalResourceRoots...)
			}
			req.reply <- roots

		case req := <-m.slots:
			infos := make([]SlotInfo, 0, len(slots))
			for slot, s := range slots {
				if s.owner == nil {
					continue
				}
				infos = append(infos, SlotInfo{
					Slot:      slot,
					Title:     s.render.Title,
					Rev:       s.render.Rev,
					Connected: s.conn != nil,
				})
			}
			sort.Slice(infos, func(i, j int) bool { return infos[i].Slot < infos[j].Slot })
			req.reply <- infos

		case <-m.stopLoop:
			for _, s := range slots {
				if s.conn != nil {
					_ = s.conn.Close()
					s.conn = nil
				}
			}
			return
		}
	}
}

func (m *PreviewServer) dispatch(fn func()) {
	if m.dispatcher == nil {
		return
	}
	if err := m.dispatcher.Post(fn); err != nil {
		log.Debugf("dispatch: %v", err)
	}
}

func parseSlot(r *http.Request) (preview.Slot, bool) {
	n, err := strconv.Atoi(r.PathValue("slot"))
	if err != nil || n < 0 {
		return 0, false
	}
	return preview.Slot(n), true
}

func withinRoots(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(filepath.Clean(root), path)
		if err != nil {
			continue
		}
		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}
	return false
}

// writeJSON writes a JSON message and reports whether the connection is usable.
func writeJSON(conn *websocket.Conn, v any) bool {
	if err := conn.WriteJSON(v); err != nil {
		_ = conn.Close()
		return false
	}
	return true
}

func writeRaw(conn *websocket.Conn, raw []byte) bool {
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		_ = conn.Close()
		return false
	}
	return true
}
