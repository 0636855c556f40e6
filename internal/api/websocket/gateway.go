// Package websocket is the session gateway: it authenticates connections,
// keeps the per-user connection registry, routes inbound commands to the
// engine, and delivers outbound events.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/openlot/realtime-auction-backend/internal/broadcast"
	domerrors "github.com/openlot/realtime-auction-backend/internal/domain/errors"
	"github.com/openlot/realtime-auction-backend/internal/domain/user"
	"github.com/openlot/realtime-auction-backend/internal/domain/values"
	"github.com/openlot/realtime-auction-backend/internal/engine"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/auth"
	"github.com/openlot/realtime-auction-backend/internal/infrastructure/cache"
	"github.com/openlot/realtime-auction-backend/internal/metrics"
)

const commandTimeout = 10 * time.Second

// Config tunes the gateway.
type Config struct {
	SendQueueSize int    `koanf:"send_queue_size"`
	Currency      string `koanf:"currency"`
}

// Gateway accepts websocket connections and bridges them to the engine.
type Gateway struct {
	cfg      Config
	registry *engine.Registry
	fabric   *broadcast.Fabric
	verifier *auth.Verifier
	throttle *cache.LoginThrottle
	logger   *zap.Logger
	metrics  *metrics.Metrics
	validate *validator.Validate
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	byUser  map[uuid.UUID]map[uuid.UUID]*Client
}

// New wires the gateway and registers it as the fabric's drop handler and
// the registry's winner notifier.
func New(
	cfg Config,
	registry *engine.Registry,
	fabric *broadcast.Fabric,
	verifier *auth.Verifier,
	throttle *cache.LoginThrottle,
	logger *zap.Logger,
	m *metrics.Metrics,
) *Gateway {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}
	if cfg.Currency == "" {
		cfg.Currency = values.USD
	}
	g := &Gateway{
		cfg:      cfg,
		registry: registry,
		fabric:   fabric,
		verifier: verifier,
		throttle: throttle,
		logger:   logger,
		metrics:  m,
		validate: validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[uuid.UUID]*Client),
		byUser:  make(map[uuid.UUID]map[uuid.UUID]*Client),
	}
	fabric.OnDrop(g.handleDrop)
	registry.SetWinnerNotifier(g)
	return g
}

// HandleWS upgrades /ws requests. The credential arrives as a token query
// parameter; the identity it proves tags every command on this connection.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	origin := clientIP(r)

	allowed, err := g.throttle.Allow(ctx, origin)
	if err != nil {
		g.logger.Error("login throttle unavailable", zap.Error(err))
	}
	if !allowed {
		g.metrics.AuthThrottled.Inc()
		writeReject(w, http.StatusTooManyRequests, "too many failed attempts")
		return
	}

	identity, err := g.verifier.Verify(r.URL.Query().Get("token"))
	if err != nil {
		if rerr := g.throttle.RecordFailure(ctx, origin); rerr != nil {
			g.logger.Error("login throttle record failed", zap.Error(rerr))
		}
		g.logger.Warn("connection rejected", zap.String("origin", origin), zap.Error(err))
		writeReject(w, http.StatusUnauthorized, domerrors.CodeAuthFailed)
		return
	}
	if err := g.throttle.Reset(ctx, origin); err != nil {
		g.logger.Error("login throttle reset failed", zap.Error(err))
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(g, conn, identity, g.cfg.SendQueueSize)
	g.register(c)

	go c.writePump()
	go c.readPump()

	g.logger.Info("connection established",
		zap.String("connection_id", c.id.String()),
		zap.String("user_id", identity.UserID.String()),
		zap.String("username", identity.Username))
}

// NotifyWon delivers you_won to every active connection of the winner.
func (g *Gateway) NotifyWon(auctionID, userID uuid.UUID, amount values.Money) {
	payload := broadcast.Marshal(broadcast.YouWonEvent{
		Type:      broadcast.EventYouWon,
		AuctionID: auctionID,
		Amount:    amount.String(),
	})

	g.mu.RLock()
	conns := make([]*Client, 0, len(g.byUser[userID]))
	for _, c := range g.byUser[userID] {
		conns = append(conns, c)
	}
	g.mu.RUnlock()

	for _, c := range conns {
		c.Deliver(payload)
	}
}

// ConnectionCount returns the number of open connections, for health checks.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// Shutdown closes every connection.
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

func (g *Gateway) register(c *Client) {
	g.mu.Lock()
	g.clients[c.id] = c
	if g.byUser[c.UserID()] == nil {
		g.byUser[c.UserID()] = make(map[uuid.UUID]*Client)
	}
	g.byUser[c.UserID()][c.id] = c
	g.mu.Unlock()
	g.metrics.WSConnections.Inc()
}

// unregister removes the connection from every joined room and the user
// registry. Pending responses for this connection are discarded.
func (g *Gateway) unregister(c *Client) {
	left := g.fabric.LeaveAll(c.id)
	for _, auctionID := range left {
		g.publishPeer(auctionID, broadcast.EventPeerLeft, c.identity)
	}

	g.mu.Lock()
	if _, ok := g.clients[c.id]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.clients, c.id)
	if set := g.byUser[c.UserID()]; set != nil {
		delete(set, c.id)
		if len(set) == 0 {
			delete(g.byUser, c.UserID())
		}
	}
	g.mu.Unlock()

	c.close()
	g.metrics.WSConnections.Dec()
	g.logger.Info("connection closed", zap.String("connection_id", c.id.String()))
}

func (g *Gateway) handleDrop(auctionID uuid.UUID, sub broadcast.Subscriber) {
	g.metrics.BroadcastDrops.Inc()
	g.mu.RLock()
	c, ok := g.clients[sub.ConnectionID()]
	g.mu.RUnlock()
	if ok {
		c.close()
	}
}

// handleCommand parses, validates, tags, and routes one inbound command.
// Protocol errors yield error{message} and mutate nothing.
func (g *Gateway) handleCommand(c *Client, data []byte) {
	if !c.limiter.Allow() {
		g.sendEvent(c, broadcast.ErrorEvent{Type: broadcast.EventError, Message: "rate limited"})
		return
	}

	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		g.sendEvent(c, broadcast.ErrorEvent{Type: broadcast.EventError, Message: "malformed command"})
		return
	}
	if err := g.validate.Struct(&cmd); err != nil {
		g.sendEvent(c, broadcast.ErrorEvent{Type: broadcast.EventError, Message: "invalid command"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case CmdJoinAuction:
		g.joinAuction(ctx, c, cmd.AuctionID)
	case CmdLeaveAuction:
		g.leaveAuction(c, cmd.AuctionID)
	case CmdPlaceBid:
		g.placeBid(ctx, c, cmd)
	case CmdSetProxy:
		g.setProxy(ctx, c, cmd)
	case CmdCancelProxy:
		g.cancelProxy(ctx, c, cmd.AuctionID)
	}
}

// joinAuction subscribes the connection and replies with fresh state plus
// recent history. Events after snapshot.LastSeq arrive with contiguous
// sequence numbers, so the client can splice without gaps.
func (g *Gateway) joinAuction(ctx context.Context, c *Client, auctionID uuid.UUID) {
	lane, err := g.registry.Lane(ctx, auctionID)
	if err != nil {
		g.sendEvent(c, broadcast.ErrorEvent{Type: broadcast.EventError, Message: domerrors.CodeOf(err)})
		return
	}

	room := g.fabric.Room(auctionID)
	_, already := room.Join(c)

	snap, err := lane.Snapshot(ctx)
	if err != nil {
		room.Leave(c.id)
		g.sendEvent(c, broadcast.ErrorEvent{Type: broadcast.EventError, Message: domerrors.CodeOf(err)})
		return
	}

	a := snap.Auction
	g.sendEvent(c, broadcast.AuctionStateEvent{
		Type:                 broadcast.EventAuctionState,
		AuctionID:            a.ID,
		SellerID:             a.SellerID,
		Title:                a.Title,
		ImageURL:             a.ImageURL,
		Status:               string(a.Status),
		StartingPrice:        a.StartingPrice.String(),
		CurrentPrice:         a.CurrentPrice.String(),
		BidCount:             a.BidCount,
		StartTime:            a.StartTime,
		EndTime:              a.EndTime,
		TimeRemainingSeconds: int64(a.TimeRemaining(time.Now().UTC()).Seconds()),
		SuggestedBid:         snap.SuggestedBid.String(),
		NextIncrement:        snap.NextIncrement.String(),
		PredictedFinalPrice:  snap.Predicted.String(),
		WinnerID:             a.WinnerID,
		LastSeq:              snap.LastSeq,
	})
	g.sendEvent(c, broadcast.BidHistorySnapshotEvent{
		Type:      broadcast.EventBidHistorySnapshot,
		AuctionID: auctionID,
		Bids:      snap.History,
		LastSeq:   snap.LastSeq,
	})

	if !already {
		g.publishPeer(auctionID, broadcast.EventPeerJoined, c.identity)
	}
}

func (g *Gateway) leaveAuction(c *Client, auctionID uuid.UUID) {
	room, ok := g.fabric.Lookup(auctionID)
	if !ok {
		return
	}
	if room.Leave(c.id) {
		g.publishPeer(auctionID, broadcast.EventPeerLeft, c.identity)
	}
}

func (g *Gateway) placeBid(ctx context.Context, c *Client, cmd Command) {
	amount, err := values.NewMoneyFromString(cmd.Amount, g.cfg.Currency)
	if err != nil || !amount.IsPositive() {
		g.sendEvent(c, broadcast.BidRejectedEvent{
			Type:   broadcast.EventBidRejected,
			Reason: domerrors.CodeInvalidAmount,
		})
		return
	}

	lane, err := g.registry.Lane(ctx, cmd.AuctionID)
	if err != nil {
		g.sendEvent(c, broadcast.BidRejectedEvent{
			Type:   broadcast.EventBidRejected,
			Reason: domerrors.CodeOf(err),
		})
		return
	}

	_, err = lane.PlaceBid(ctx, engine.BidRequest{
		BidderID: c.UserID(),
		Username: c.Username(),
		Amount:   amount,
	})
	if err != nil {
		g.sendEvent(c, rejectionFor(err))
	}
}

func (g *Gateway) setProxy(ctx context.Context, c *Client, cmd Command) {
	maxAmount, err := values.NewMoneyFromString(cmd.MaxAmount, g.cfg.Currency)
	if err != nil || !maxAmount.IsPositive() {
		g.sendEvent(c, broadcast.ProxyRejectedEvent{
			Type:   broadcast.EventProxyRejected,
			Reason: domerrors.CodeInvalidAmount,
		})
		return
	}

	lane, err := g.registry.Lane(ctx, cmd.AuctionID)
	if err != nil {
		g.sendEvent(c, broadcast.ProxyRejectedEvent{
			Type:   broadcast.EventProxyRejected,
			Reason: domerrors.CodeOf(err),
		})
		return
	}

	intent, err := lane.SetProxy(ctx, engine.ProxyRequest{
		BidderID:  c.UserID(),
		Username:  c.Username(),
		MaxAmount: maxAmount,
	})
	if err != nil {
		g.sendEvent(c, broadcast.ProxyRejectedEvent{
			Type:   broadcast.EventProxyRejected,
			Reason: domerrors.CodeOf(err),
		})
		return
	}
	g.sendEvent(c, broadcast.ProxySetEvent{
		Type:      broadcast.EventProxySet,
		AuctionID: cmd.AuctionID,
		MaxAmount: intent.MaxAmount.String(),
	})
}

func (g *Gateway) cancelProxy(ctx context.Context, c *Client, auctionID uuid.UUID) {
	lane, err := g.registry.Lane(ctx, auctionID)
	if err != nil {
		g.sendEvent(c, broadcast.ProxyRejectedEvent{
			Type:   broadcast.EventProxyRejected,
			Reason: domerrors.CodeOf(err),
		})
		return
	}
	if err := lane.CancelProxy(ctx, c.UserID()); err != nil {
		g.sendEvent(c, broadcast.ProxyRejectedEvent{
			Type:   broadcast.EventProxyRejected,
			Reason: domerrors.CodeOf(err),
		})
	}
}

func (g *Gateway) publishPeer(auctionID uuid.UUID, eventType string, id *user.Identity) {
	room, ok := g.fabric.Lookup(auctionID)
	if !ok {
		return
	}
	room.Publish(func(seq uint64) []byte {
		return broadcast.Marshal(broadcast.PeerEvent{
			Type:      eventType,
			AuctionID: auctionID,
			UserID:    id.UserID,
			Username:  id.Username,
			Seq:       seq,
		})
	})
}

func (g *Gateway) sendEvent(c *Client, v interface{}) {
	if !c.Deliver(broadcast.Marshal(v)) {
		c.close()
	}
}

// rejectionFor maps an engine error onto the wire, carrying the minimum bid
// when the rejection is below_minimum.
func rejectionFor(err error) broadcast.BidRejectedEvent {
	ev := broadcast.BidRejectedEvent{
		Type:   broadcast.EventBidRejected,
		Reason: domerrors.CodeOf(err),
	}
	var appErr *domerrors.AppError
	if errors.As(err, &appErr) {
		if min, ok := appErr.Details["minimum_bid"].(string); ok {
			ev.MinimumBid = min
		}
	}
	return ev
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return fwd
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeReject(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"type": "error", "message": reason})
}
