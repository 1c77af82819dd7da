package server

import (
	"context"
	"fmt"

	"github.com/npezzotti/go-supportchat/internal/presence"
	"github.com/npezzotti/go-supportchat/internal/router"
	"github.com/npezzotti/go-supportchat/internal/stats"
	"github.com/npezzotti/go-supportchat/internal/types"
	"go.uber.org/zap"
)

const broadcastQueueSize = 1024

type subscribeReq struct {
	client *Client
	roomId string
	done   chan struct{}
}

type broadcastReq struct {
	target router.Target
	msg    *ServerMessage
}

type stopReq struct {
	done chan struct{}
}

// ChatServer is the connection hub. Its run loop is the only goroutine
// that touches the client tables and the presence registry.
type ChatServer struct {
	log            *zap.Logger
	stats          stats.StatsProvider
	clients        map[*Client]struct{}
	admins         map[*Client]struct{}
	rooms          map[string]map[*Client]struct{}
	presence       *presence.Registry
	registerChan   chan *Client
	deRegisterChan chan *Client
	subscribeChan  chan subscribeReq
	adminJoinChan  chan subscribeReq
	broadcastChan  chan broadcastReq
	stop           chan stopReq
	done           chan struct{}
}

func NewChatServer(logger *zap.Logger, sp stats.StatsProvider) *ChatServer {
	if sp == nil {
		sp = stats.Discard
	}

	return &ChatServer{
		log:            logger,
		stats:          sp,
		clients:        make(map[*Client]struct{}),
		admins:         make(map[*Client]struct{}),
		rooms:          make(map[string]map[*Client]struct{}),
		presence:       presence.NewRegistry(),
		registerChan:   make(chan *Client),
		deRegisterChan: make(chan *Client),
		subscribeChan:  make(chan subscribeReq),
		adminJoinChan:  make(chan subscribeReq),
		broadcastChan:  make(chan broadcastReq, broadcastQueueSize),
		stop:           make(chan stopReq),
		done:           make(chan struct{}),
	}
}

func (cs *ChatServer) Run() {
	for {
		select {
		case c := <-cs.registerChan:
			cs.clients[c] = struct{}{}
			cs.stats.ConnectionOpened()
			cs.log.Debug("client registered", zap.String("conn_id", c.id), zap.Bool("admin", c.admin != nil))
		case c := <-cs.deRegisterChan:
			cs.removeClient(c)
		case req := <-cs.subscribeChan:
			cs.addToRoom(req.client, req.roomId)
			close(req.done)
		case req := <-cs.adminJoinChan:
			cs.admins[req.client] = struct{}{}
			cs.addToRoom(req.client, types.AdminRoomId)
			cs.presence.Join(req.client.id, *req.client.admin)
			cs.broadcastAdminList()
			close(req.done)
		case req := <-cs.broadcastChan:
			cs.deliver(req.target, req.msg)
		case req := <-cs.stop:
			cs.log.Info("stopping chat server", zap.Int("clients", len(cs.clients)))
			for c := range cs.clients {
				c.stopClient()
			}
			close(cs.done)
			close(req.done)
			return
		}
	}
}

// RegisterClient adds c to the hub.
func (cs *ChatServer) RegisterClient(c *Client) {
	select {
	case cs.registerChan <- c:
	case <-cs.done:
	}
}

func (cs *ChatServer) deregister(c *Client) {
	select {
	case cs.deRegisterChan <- c:
	case <-cs.done:
	}
}

// subscribe adds c to the room's fan-out set and returns once the hub has
// applied the change, so broadcasts issued afterwards reach c.
func (cs *ChatServer) subscribe(c *Client, roomId string) {
	cs.await(cs.subscribeChan, subscribeReq{client: c, roomId: roomId, done: make(chan struct{})})
}

// adminJoin marks c as an admin connection and publishes the new presence.
func (cs *ChatServer) adminJoin(c *Client) {
	cs.await(cs.adminJoinChan, subscribeReq{client: c, done: make(chan struct{})})
}

func (cs *ChatServer) await(ch chan subscribeReq, req subscribeReq) {
	select {
	case ch <- req:
	case <-cs.done:
		return
	}

	select {
	case <-req.done:
	case <-cs.done:
	}
}

// Broadcast queues ev for every client matching target. Requests are
// delivered in the order they were queued.
func (cs *ChatServer) Broadcast(target router.Target, ev types.Event) {
	select {
	case cs.broadcastChan <- broadcastReq{target: target, msg: EventMessage(ev)}:
	case <-cs.done:
	}
}

func (cs *ChatServer) deliver(target router.Target, msg *ServerMessage) {
	recipients := make(map[*Client]struct{})
	if target.RoomId != "" {
		for c := range cs.rooms[target.RoomId] {
			recipients[c] = struct{}{}
		}
	}
	if target.Admins {
		for c := range cs.admins {
			recipients[c] = struct{}{}
		}
	}

	for c := range recipients {
		if !c.queueMessage(msg) {
			cs.log.Warn("dropped event for slow client",
				zap.String("conn_id", c.id),
				zap.String("event", msg.Event),
			)
		}
	}
}

func (cs *ChatServer) addToRoom(c *Client, roomId string) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	subs, ok := cs.rooms[roomId]
	if !ok {
		subs = make(map[*Client]struct{})
		cs.rooms[roomId] = subs
	}
	subs[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	if _, ok := cs.clients[c]; !ok {
		return
	}

	delete(cs.clients, c)
	delete(cs.admins, c)
	for id, subs := range cs.rooms {
		delete(subs, c)
		if len(subs) == 0 {
			delete(cs.rooms, id)
		}
	}
	cs.stats.ConnectionClosed()

	if cs.presence.Leave(c.id) {
		cs.broadcastAdminList()
	}
	cs.log.Debug("client deregistered", zap.String("conn_id", c.id))
}

func (cs *ChatServer) broadcastAdminList() {
	cs.deliver(router.Target{Admins: true}, EventMessage(types.Event{
		Name: types.EventAdminList,
		Data: cs.presence.List(),
	}))
}

// Shutdown stops the run loop and every client's write pump.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	req := stopReq{done: make(chan struct{})}

	select {
	case cs.stop <- req:
	case <-cs.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}

	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("chat server shutdown: %w", ctx.Err())
	}
}
