// Package network implements the TCP gossip mesh: a listener for
// inbound peer connections, outbound dialers to configured neighbors,
// and the newline-delimited JSON wire protocol that carries blocks,
// transactions and block requests between them.
package network

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
)

// Addr is a dialable network endpoint.
type Addr struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

func (a Addr) String() string { return fmt.Sprintf("%s:%d", a.IP, a.Port) }

// messageKind discriminates the wire union type.
type messageKind string

const (
	kindBroadcastBlock messageKind = "broadcast_block"
	kindBroadcastTx    messageKind = "broadcast_tx"
	kindRequestBlock   messageKind = "request_block"
	kindUnknown        messageKind = "unknown"
)

// wireMessage is the on-the-wire envelope: exactly one of the payload
// fields is populated, selected by Kind.
type wireMessage struct {
	Kind    messageKind      `json:"kind"`
	Block   *database.Block  `json:"block,omitempty"`
	Tx      *database.Tx     `json:"tx,omitempty"`
	BlockID database.BlockID `json:"block_id,omitempty"`
	Text    string           `json:"text,omitempty"`
}

// BlockRequest is an inbound request for a block this node may have.
// Respond sends the block back to the requesting peer only, not to the
// whole mesh.
type BlockRequest struct {
	BlockID database.BlockID
	Respond func(database.Block)
}

// EventHandler receives free-form diagnostic log lines from the
// network.
type EventHandler func(format string, args ...any)

func noopEventHandler(string, ...any) {}

// Network is a node's TCP gossip mesh: one listener for inbound
// connections, one dialer goroutine per configured neighbor, and the
// dedup bookkeeping that keeps a message from being forwarded twice.
type Network struct {
	mu sync.RWMutex

	self      Addr
	neighbors []Addr
	evHandler EventHandler

	listener net.Listener

	conns map[string]*connection

	seenBlocks map[database.BlockID]struct{}
	seenTxs    map[database.TxID]struct{}

	sendCount uint64
	recvCount uint64

	InboundBlocks        chan database.Block
	InboundTxs           chan database.Tx
	InboundBlockRequests chan BlockRequest

	OutboundBlocks      chan database.Block
	OutboundTxs         chan database.Tx
	OutboundBlockNeeded chan database.BlockID

	done chan struct{}
}

// connection is one live TCP peer link, inbound or outbound.
type connection struct {
	id       string
	conn     net.Conn
	sendCh   chan wireMessage
	dropOnce sync.Once
}

// New constructs a Network bound to self that will dial out to every
// address in neighbors. Start must be called to actually listen and
// dial.
func New(self Addr, neighbors []Addr, evHandler EventHandler) *Network {
	if evHandler == nil {
		evHandler = noopEventHandler
	}

	return &Network{
		self:                 self,
		neighbors:            neighbors,
		evHandler:            evHandler,
		conns:                map[string]*connection{},
		seenBlocks:           map[database.BlockID]struct{}{},
		seenTxs:              map[database.TxID]struct{}{},
		InboundBlocks:        make(chan database.Block, 64),
		InboundTxs:           make(chan database.Tx, 64),
		InboundBlockRequests: make(chan BlockRequest, 16),
		OutboundBlocks:       make(chan database.Block, 64),
		OutboundTxs:          make(chan database.Tx, 64),
		OutboundBlockNeeded:  make(chan database.BlockID, 16),
		done:                 make(chan struct{}),
	}
}

// Start binds the listener, begins accepting inbound connections,
// dials every neighbor, and starts the gossip fanout loop. It returns
// once the listener is bound.
func (n *Network) Start() error {
	listener, err := net.Listen("tcp", n.self.String())
	if err != nil {
		return fmt.Errorf("network: listen on %s: %w", n.self, err)
	}
	n.listener = listener

	go n.acceptLoop()
	for _, addr := range n.neighbors {
		go n.dialWithBackoff(addr)
	}
	go n.gossipLoop()

	n.evHandler("network: listening on %s with %d configured neighbors", n.self, len(n.neighbors))
	return nil
}

// Stop closes the listener and every live connection.
func (n *Network) Stop() {
	close(n.done)
	if n.listener != nil {
		n.listener.Close()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for _, c := range n.conns {
		c.conn.Close()
	}
}

func (n *Network) acceptLoop() {
	for {
		conn, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.done:
				return
			default:
				n.evHandler("network: accept: %v", err)
				return
			}
		}
		n.adopt(conn)
	}
}

// dialWithBackoff dials addr, retrying with a randomized 1-5s backoff
// until it succeeds or the network is stopped. Neighbors frequently
// aren't listening yet at process start, which is what this tolerates.
func (n *Network) dialWithBackoff(addr Addr) {
	for {
		select {
		case <-n.done:
			return
		default:
		}

		conn, err := net.Dial("tcp", addr.String())
		if err == nil {
			n.adopt(conn)
			return
		}

		n.evHandler("network: dial %s: %v, retrying", addr, err)

		backoff := time.Duration(1000+rand.Intn(4000)) * time.Millisecond
		select {
		case <-n.done:
			return
		case <-time.After(backoff):
		}
	}
}

func (n *Network) adopt(raw net.Conn) {
	c := &connection{
		id:     uuid.NewString(),
		conn:   raw,
		sendCh: make(chan wireMessage, 256),
	}

	n.mu.Lock()
	n.conns[c.id] = c
	n.mu.Unlock()

	go n.writerLoop(c)
	go n.readerLoop(c)

	n.evHandler("network: connected to %s", raw.RemoteAddr())
}

// drop tears down c: closing its connection and send channel at most
// once. writerLoop (on a write error) and readerLoop (on the EOF that
// write error's close triggers) can both observe the same dead
// connection and race to tear it down, so the actual work is guarded
// by dropOnce.
func (n *Network) drop(c *connection) {
	c.dropOnce.Do(func() {
		n.mu.Lock()
		delete(n.conns, c.id)
		n.mu.Unlock()
		c.conn.Close()
		close(c.sendCh)
	})
}

func (n *Network) writerLoop(c *connection) {
	writer := bufio.NewWriter(c.conn)
	for msg := range c.sendCh {
		raw, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		if _, err := writer.Write(raw); err != nil {
			n.drop(c)
			return
		}
		if _, err := writer.WriteString("\n"); err != nil {
			n.drop(c)
			return
		}
		if err := writer.Flush(); err != nil {
			n.drop(c)
			return
		}

		n.mu.Lock()
		n.sendCount++
		n.mu.Unlock()
	}
}

func (n *Network) readerLoop(c *connection) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			msg = wireMessage{Kind: kindUnknown, Text: err.Error()}
		}

		n.mu.Lock()
		n.recvCount++
		n.mu.Unlock()

		n.route(c, msg)
	}

	n.drop(c)
}

// route dispatches an inbound message to the appropriate channel. It
// does not consult or update the seen-block/seen-tx sets: those are
// populated only when a message is forwarded (see gossipLoop), per
// spec.md section 4.4, so that every inbound item still reaches the
// local consumer (the orchestrator) even if this node has already
// forwarded it once itself.
func (n *Network) route(c *connection, msg wireMessage) {
	switch msg.Kind {
	case kindBroadcastBlock:
		if msg.Block == nil {
			return
		}
		n.InboundBlocks <- *msg.Block
	case kindBroadcastTx:
		if msg.Tx == nil {
			return
		}
		n.InboundTxs <- *msg.Tx
	case kindRequestBlock:
		n.InboundBlockRequests <- BlockRequest{
			BlockID: msg.BlockID,
			Respond: func(block database.Block) { n.sendTo(c, wireMessage{Kind: kindBroadcastBlock, Block: &block}) },
		}
	default:
		n.evHandler("network: unknown message from %s: %s", c.conn.RemoteAddr(), msg.Text)
	}
}

func (n *Network) sendTo(c *connection, msg wireMessage) {
	select {
	case c.sendCh <- msg:
	default:
		n.evHandler("network: dropping message to %s: send buffer full", c.conn.RemoteAddr())
	}
}

// markSeenBlock reports whether id had not yet been seen, recording it
// as seen either way.
func (n *Network) markSeenBlock(id database.BlockID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.seenBlocks[id]; seen {
		return false
	}
	n.seenBlocks[id] = struct{}{}
	return true
}

func (n *Network) markSeenTx(id database.TxID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, seen := n.seenTxs[id]; seen {
		return false
	}
	n.seenTxs[id] = struct{}{}
	return true
}

// gossipLoop drains the outbound channels and fans each item, if not
// already seen, out to every connected peer.
func (n *Network) gossipLoop() {
	for {
		select {
		case <-n.done:
			return

		case block := <-n.OutboundBlocks:
			if n.markSeenBlock(block.Header.BlockID) {
				n.broadcast(wireMessage{Kind: kindBroadcastBlock, Block: &block})
			}

		case tx := <-n.OutboundTxs:
			if n.markSeenTx(tx.ID()) {
				n.broadcast(wireMessage{Kind: kindBroadcastTx, Tx: &tx})
			}

		case blockID := <-n.OutboundBlockNeeded:
			n.broadcast(wireMessage{Kind: kindRequestBlock, BlockID: blockID})
		}
	}
}

func (n *Network) broadcast(msg wireMessage) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, c := range n.conns {
		n.sendTo(c, msg)
	}
}

// Status returns a snapshot of diagnostic fields for the
// orchestrator's status query.
func (n *Network) Status() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return map[string]string{
		"address":        n.self.String(),
		"peer_count":     fmt.Sprint(len(n.conns)),
		"sent_count":     fmt.Sprint(n.sendCount),
		"received_count": fmt.Sprint(n.recvCount),
	}
}
