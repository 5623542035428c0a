// Package ipc implements the line-delimited JSON request/response
// protocol the orchestrator's external collaborator (the terminal UI,
// out of scope here) speaks to the core process. It owns constructing
// the node's State from the three documents an Initialize request
// carries.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/mempool"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
)

// RequestKind discriminates the request union.
type RequestKind string

const (
	ReqInitialize                RequestKind = "initialize"
	ReqGetAddressBalance         RequestKind = "get_address_balance"
	ReqPublishTx                 RequestKind = "publish_tx"
	ReqRequestBlock              RequestKind = "request_block"
	ReqRequestNetStatus          RequestKind = "request_net_status"
	ReqRequestChainStatus        RequestKind = "request_chain_status"
	ReqRequestMinerStatus        RequestKind = "request_miner_status"
	ReqRequestTxPoolStatus       RequestKind = "request_tx_pool_status"
	ReqRequestStateSerialization RequestKind = "request_state_serialization"
	ReqQuit                      RequestKind = "quit"
)

// Request is the envelope for every line the orchestrator reads from
// its collaborator. Only the fields relevant to Kind are populated.
type Request struct {
	Kind RequestKind `json:"kind"`

	BlockTreeJSON json.RawMessage `json:"blocktree_json,omitempty"`
	TxPoolJSON    json.RawMessage `json:"txpool_json,omitempty"`
	ConfigJSON    json.RawMessage `json:"config_json,omitempty"`

	UserID    database.UserID `json:"user_id,omitempty"`
	Data      string          `json:"data,omitempty"`
	Signature string          `json:"signature,omitempty"`

	BlockID database.BlockID `json:"block_id,omitempty"`
}

// dataTriple is the JSON shape of a PublishTx request's Data field:
// sender, receiver and message, the same triple a transaction's
// signing payload covers.
type dataTriple struct {
	Sender   database.UserID `json:"sender"`
	Receiver database.UserID `json:"receiver"`
	Message  string          `json:"message"`
}

// ResponseKind discriminates the response union.
type ResponseKind string

const (
	RespInitialized         ResponseKind = "initialized"
	RespPublishTxDone       ResponseKind = "publish_tx_done"
	RespAddressBalance      ResponseKind = "address_balance"
	RespBlockData           ResponseKind = "block_data"
	RespNetStatus          ResponseKind = "net_status"
	RespChainStatus        ResponseKind = "chain_status"
	RespMinerStatus        ResponseKind = "miner_status"
	RespTxPoolStatus       ResponseKind = "tx_pool_status"
	RespStateSerialization ResponseKind = "state_serialization"
	RespQuitting           ResponseKind = "quitting"
	RespNotify             ResponseKind = "notify"
)

// Response is the envelope for every line the orchestrator writes
// back to its collaborator.
type Response struct {
	Kind ResponseKind `json:"kind"`

	UserID database.UserID `json:"user_id,omitempty"`
	Amount int64           `json:"amount,omitempty"`

	Found     bool            `json:"found,omitempty"`
	BlockJSON json.RawMessage `json:"block_json,omitempty"`

	Status map[string]string `json:"status,omitempty"`

	BlockTreeJSON json.RawMessage `json:"blocktree_json,omitempty"`
	TxPoolJSON    json.RawMessage `json:"txpool_json,omitempty"`

	Message string `json:"message,omitempty"`
}

func notify(format string, args ...any) Response {
	return Response{Kind: RespNotify, Message: fmt.Sprintf(format, args...)}
}

// EventHandler receives free-form diagnostic log lines from the IPC
// server.
type EventHandler func(format string, args ...any)

func noopEventHandler(string, ...any) {}

// Server reads Requests from in and writes Responses to out, one per
// line, dispatching each to the node State it constructs on the first
// Initialize request.
type Server struct {
	in  *bufio.Scanner
	out io.Writer

	evHandler EventHandler
	node      *state.State

	// OnInitialized, if set, is called once the node State has been
	// constructed and started, so a caller (the debug HTTP server) can
	// wire itself to it.
	OnInitialized func(*state.State)
}

// NewServer constructs a Server over a request source and response
// sink — ordinarily the process's stdin and stdout.
func NewServer(in io.Reader, out io.Writer, evHandler EventHandler) *Server {
	if evHandler == nil {
		evHandler = noopEventHandler
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	return &Server{in: scanner, out: out, evHandler: evHandler}
}

// Run reads requests until Quit is received or the input is
// exhausted, writing one response per request. It returns after a
// Quit request's response has been written.
func (s *Server) Run() error {
	for s.in.Scan() {
		var req Request
		if err := json.Unmarshal(s.in.Bytes(), &req); err != nil {
			if err := s.write(notify(fmt.Sprintf("ipc: unparseable request: %v", err))); err != nil {
				return err
			}
			continue
		}

		resp := s.handle(req)
		if err := s.write(resp); err != nil {
			return err
		}
		if req.Kind == ReqQuit {
			if s.node != nil {
				s.node.Stop()
			}
			return nil
		}
	}

	return s.in.Err()
}

func (s *Server) write(resp Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("ipc: marshal response: %w", err)
	}
	if _, err := s.out.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("ipc: write response: %w", err)
	}
	return nil
}

func (s *Server) handle(req Request) Response {
	switch req.Kind {
	case ReqInitialize:
		return s.handleInitialize(req)

	case ReqGetAddressBalance:
		if s.node == nil {
			return notify("ipc: get_address_balance before initialize")
		}
		return Response{Kind: RespAddressBalance, UserID: req.UserID, Amount: s.node.GetAddressBalance(req.UserID)}

	case ReqPublishTx:
		if s.node == nil {
			return notify("ipc: publish_tx before initialize")
		}
		var triple dataTriple
		if err := json.Unmarshal([]byte(req.Data), &triple); err != nil {
			return notify("ipc: publish_tx: unparseable data triple: %v", err)
		}
		tx := database.NewTx(triple.Sender, triple.Receiver, triple.Message, req.Signature)
		s.node.PublishTx(tx)
		return Response{Kind: RespPublishTxDone}

	case ReqRequestBlock:
		if s.node == nil {
			return notify("ipc: request_block before initialize")
		}
		block, found := s.node.RequestBlock(req.BlockID)
		if !found {
			return Response{Kind: RespBlockData, Found: false}
		}
		raw, err := json.Marshal(block)
		if err != nil {
			return notify("ipc: marshal block: %v", err)
		}
		return Response{Kind: RespBlockData, Found: true, BlockJSON: raw}

	case ReqRequestNetStatus:
		if s.node == nil {
			return notify("ipc: request_net_status before initialize")
		}
		return Response{Kind: RespNetStatus, Status: s.node.NetStatus()}

	case ReqRequestChainStatus:
		if s.node == nil {
			return notify("ipc: request_chain_status before initialize")
		}
		return Response{Kind: RespChainStatus, Status: s.node.ChainStatus()}

	case ReqRequestMinerStatus:
		if s.node == nil {
			return notify("ipc: request_miner_status before initialize")
		}
		return Response{Kind: RespMinerStatus, Status: s.node.MinerStatus()}

	case ReqRequestTxPoolStatus:
		if s.node == nil {
			return notify("ipc: request_tx_pool_status before initialize")
		}
		return Response{Kind: RespTxPoolStatus, Status: s.node.TxPoolStatus()}

	case ReqRequestStateSerialization:
		if s.node == nil {
			return notify("ipc: request_state_serialization before initialize")
		}
		blockTreeJSON, poolJSON, err := s.node.StateSerialization()
		if err != nil {
			return notify("ipc: state serialization: %v", err)
		}
		return Response{Kind: RespStateSerialization, BlockTreeJSON: blockTreeJSON, TxPoolJSON: poolJSON}

	case ReqQuit:
		return Response{Kind: RespQuitting}

	default:
		return notify("ipc: unknown request kind %q", req.Kind)
	}
}

func (s *Server) handleInitialize(req Request) Response {
	var cfg state.Config
	if err := json.Unmarshal(req.ConfigJSON, &cfg); err != nil {
		return notify("ipc: initialize: unparseable config: %v", err)
	}

	tree := &database.BlockTree{}
	if len(req.BlockTreeJSON) > 0 {
		if err := tree.UnmarshalJSON(req.BlockTreeJSON); err != nil {
			return notify("ipc: initialize: unparseable blocktree: %v", err)
		}
	} else {
		tree = database.New(database.DefaultGenesis(), cfg.DifficultyLeadingZeroAcc, nil)
	}

	pool := mempool.New()
	if len(req.TxPoolJSON) > 0 {
		if err := pool.UnmarshalJSON(req.TxPoolJSON); err != nil {
			return notify("ipc: initialize: unparseable txpool: %v", err)
		}
	}

	s.node = state.New(cfg, tree, pool, func(format string, args ...any) { s.evHandler(format, args...) })
	if err := s.node.Start(); err != nil {
		return notify("ipc: initialize: start node: %v", err)
	}

	if s.OnInitialized != nil {
		s.OnInitialized(s.node)
	}

	return Response{Kind: RespInitialized}
}
