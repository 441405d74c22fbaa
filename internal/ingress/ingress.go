// Package ingress lets other processes (the verse generator, admin tools)
// push events into a battle's room over HTTP, guarded by a shared secret.
package ingress

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-backend/internal/protocol"
)

const (
	HeaderSecret = "X-Internal-Secret"
	Path         = "/internal/broadcast"
	maxBodyBytes = 64 << 10
)

var ErrRejected = errors.New("broadcast rejected")

type Broadcaster interface {
	Broadcast(battleID string, ev protocol.Event)
}

type Request struct {
	BattleID string          `json:"battleId"`
	Event    json.RawMessage `json:"event"`
}

// Authorized reports whether the request carries the configured secret. An
// empty secret authorizes nothing.
func Authorized(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	got := r.Header.Get(HeaderSecret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

func Handler(secret string, bc Broadcaster, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !Authorized(r, secret) {
			log.Warn("ingress request with bad secret", zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}

		var req Request
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err := dec.Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed body"})
			return
		}
		if strings.TrimSpace(req.BattleID) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "battleId is required"})
			return
		}
		ev, err := protocol.ParseRaw(req.Event)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		bc.Broadcast(req.BattleID, ev)
		log.Debug("ingress event accepted",
			zap.String("battle_id", req.BattleID), zap.String("type", string(ev.Type)))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Client posts events to a running server's ingress endpoint.
type Client struct {
	baseURL string
	secret  string
	http    *http.Client
}

func NewClient(baseURL, secret string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// Broadcast sends event, any JSON-encodable object with a "type" field, to
// the battle's room.
func (c *Client) Broadcast(ctx context.Context, battleID string, event any) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	body, err := json.Marshal(Request{BattleID: battleID, Event: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+Path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSecret, c.secret)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}
