package api

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/bitnest/ledger-service/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = (streamPongWait * 9) / 10
)

// The CORS layer has already vetted the origin of the upgrade.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamAccountHandler pushes the caller's account document over a websocket:
// the current snapshot first, then every newer committed version.
func (h *Handlers) StreamAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, _ := GetAccountID(r.Context())
	account, err := h.service.GetAccount(r.Context(), accountID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("level=warn component=stream msg=\"upgrade failed\" account_id=%s err=%v", accountID, err)
		return
	}
	defer conn.Close()

	var (
		mu      sync.Mutex
		pending *domain.Account
	)
	notify := make(chan struct{}, 1)
	push := func(a domain.Account) {
		mu.Lock()
		if pending == nil || a.Version > pending.Version {
			pending = &a
		}
		mu.Unlock()
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	push(*account)

	cancel, err := h.feed.Subscribe(r.Context(), accountID, push)
	if err != nil {
		log.Printf("level=error component=stream msg=\"subscribe failed\" account_id=%s err=%v", accountID, err)
		return
	}
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	var lastVersion int64
	for {
		select {
		case <-notify:
			mu.Lock()
			a := pending
			pending = nil
			mu.Unlock()
			// Only the newest pending version is written; older ones are coalesced.
			if a == nil || a.Version <= lastVersion {
				continue
			}
			lastVersion = a.Version
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(a); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(streamWriteWait))
			return
		}
	}
}
