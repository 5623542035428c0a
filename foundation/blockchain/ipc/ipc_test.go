package ipc_test

import (
	"bufio"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/jrsong/nakamoto-node/foundation/blockchain/database"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/ipc"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/network"
	"github.com/jrsong/nakamoto-node/foundation/blockchain/state"
)

func freePort() int {
	return 22000 + int(time.Now().UnixNano()%10000)
}

// runner drives a Server in a goroutine over an in-memory pipe, so
// tests can write request lines and read response lines synchronously.
type runner struct {
	reqW *io.PipeWriter
	respR *bufio.Scanner
	done chan error
}

func newRunner(t *testing.T) *runner {
	t.Helper()

	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()

	srv := ipc.NewServer(reqR, respW, nil)
	done := make(chan error, 1)
	go func() { done <- srv.Run() }()

	return &runner{reqW: reqW, respR: bufio.NewScanner(respR), done: done}
}

func (r *runner) send(t *testing.T, req ipc.Request) ipc.Response {
	t.Helper()

	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := r.reqW.Write(append(raw, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	if !r.respR.Scan() {
		t.Fatalf("no response read: %v", r.respR.Err())
	}

	var resp ipc.Response
	if err := json.Unmarshal(r.respR.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestInitialize_ThenGetAddressBalance(t *testing.T) {
	port := freePort()
	cfg := state.Config{
		Addr:                     network.Addr{IP: "127.0.0.1", Port: port},
		MinerThreadCount:         1,
		NonceLen:                 6,
		DifficultyLeadingZeroLen: 64,
		DifficultyLeadingZeroAcc: 64,
		MinerThread0Seed:         1,
		MiningRewardReceiver:     "miner-1",
		MaxTxInOneBlock:          10,
	}
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}

	r := newRunner(t)

	resp := r.send(t, ipc.Request{Kind: ipc.ReqInitialize, ConfigJSON: cfgJSON})
	if resp.Kind != ipc.RespInitialized {
		t.Fatalf("Initialize response kind = %v, want %v (msg: %s)", resp.Kind, ipc.RespInitialized, resp.Message)
	}

	g := database.DefaultGenesis()
	resp = r.send(t, ipc.Request{Kind: ipc.ReqGetAddressBalance, UserID: g.Receiver})
	if resp.Kind != ipc.RespAddressBalance || resp.Amount != g.Amount {
		t.Fatalf("GetAddressBalance response = %+v, want amount %d", resp, g.Amount)
	}

	resp = r.send(t, ipc.Request{Kind: ipc.ReqQuit})
	if resp.Kind != ipc.RespQuitting {
		t.Fatalf("Quit response kind = %v, want %v", resp.Kind, ipc.RespQuitting)
	}

	select {
	case err := <-r.done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return within 2s of Quit")
	}
}

func TestPublishTx_ThenRequestBlockNotFound(t *testing.T) {
	port := freePort()
	cfg := state.Config{
		Addr:                     network.Addr{IP: "127.0.0.1", Port: port},
		MinerThreadCount:         1,
		NonceLen:                 6,
		DifficultyLeadingZeroLen: 64,
		DifficultyLeadingZeroAcc: 64,
		MinerThread0Seed:         1,
		MiningRewardReceiver:     "miner-1",
		MaxTxInOneBlock:          10,
	}
	cfgJSON, _ := json.Marshal(cfg)

	r := newRunner(t)
	r.send(t, ipc.Request{Kind: ipc.ReqInitialize, ConfigJSON: cfgJSON})

	data, _ := json.Marshal(map[string]string{
		"sender": database.GenesisSender, "receiver": "receiver-1", "message": "SEND $1",
	})
	resp := r.send(t, ipc.Request{Kind: ipc.ReqPublishTx, Data: string(data), Signature: ""})
	if resp.Kind != ipc.RespPublishTxDone {
		t.Fatalf("PublishTx response kind = %v, want %v", resp.Kind, ipc.RespPublishTxDone)
	}

	resp = r.send(t, ipc.Request{Kind: ipc.ReqRequestBlock, BlockID: "not-a-real-block"})
	if resp.Kind != ipc.RespBlockData || resp.Found {
		t.Fatalf("RequestBlock response = %+v, want BlockData/found=false", resp)
	}

	r.send(t, ipc.Request{Kind: ipc.ReqQuit})
}

func TestQueryStatusKinds(t *testing.T) {
	port := freePort()
	cfg := state.Config{
		Addr:                     network.Addr{IP: "127.0.0.1", Port: port},
		MinerThreadCount:         1,
		NonceLen:                 6,
		DifficultyLeadingZeroLen: 64,
		DifficultyLeadingZeroAcc: 64,
		MinerThread0Seed:         1,
		MiningRewardReceiver:     "miner-1",
		MaxTxInOneBlock:          10,
	}
	cfgJSON, _ := json.Marshal(cfg)

	r := newRunner(t)
	r.send(t, ipc.Request{Kind: ipc.ReqInitialize, ConfigJSON: cfgJSON})

	tests := []struct {
		kind ipc.RequestKind
		want ipc.ResponseKind
	}{
		{ipc.ReqRequestNetStatus, ipc.RespNetStatus},
		{ipc.ReqRequestChainStatus, ipc.RespChainStatus},
		{ipc.ReqRequestMinerStatus, ipc.RespMinerStatus},
		{ipc.ReqRequestTxPoolStatus, ipc.RespTxPoolStatus},
		{ipc.ReqRequestStateSerialization, ipc.RespStateSerialization},
	}

	for _, tc := range tests {
		resp := r.send(t, ipc.Request{Kind: tc.kind})
		if resp.Kind != tc.want {
			t.Fatalf("%s response kind = %v, want %v (msg: %s)", tc.kind, resp.Kind, tc.want, resp.Message)
		}
	}

	r.send(t, ipc.Request{Kind: ipc.ReqQuit})
}
