package platform

import (
	"errors"
	"sync"
	"testing"

	"busmux-go/errcode"
)

// fakeI2CHW records rate switches and transfers; rates in bad are refused.
type fakeI2CHW struct {
	mu    sync.Mutex
	bad   map[uint32]bool
	rates []uint32
	txs   int
	block chan struct{}
}

func (h *fakeI2CHW) SetBaudRate(br uint32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bad[br] {
		return errors.New("rate out of range")
	}
	h.rates = append(h.rates, br)
	return nil
}

func (h *fakeI2CHW) Tx(uint16, []byte, []byte) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.txs++
	h.mu.Unlock()
	return nil
}

func TestI2COwnerRateSwitch(t *testing.T) {
	hw := &fakeI2CHW{bad: map[uint32]bool{5_000_000: true}}
	o := newI2COwner(hw, 400_000)
	defer o.stop()

	if err := o.do(0x48, 100_000, []byte{1}, nil, 50); err != nil {
		t.Fatal(err)
	}
	if err := o.do(0x48, 5_000_000, []byte{1}, nil, 50); err == nil {
		t.Fatal("refused rate should fail the transfer")
	}
	// The worker still believes in 100 kHz, so asking for it again is a no-op.
	if err := o.do(0x48, 100_000, []byte{1}, nil, 50); err != nil {
		t.Fatal(err)
	}
	if err := o.do(0x48, 0, []byte{1}, nil, 50); err != nil {
		t.Fatal(err)
	}

	hw.mu.Lock()
	defer hw.mu.Unlock()
	if len(hw.rates) != 1 || hw.rates[0] != 100_000 {
		t.Fatalf("rates = %v", hw.rates)
	}
	if hw.txs != 3 {
		t.Fatalf("transfers = %d, want 3", hw.txs)
	}
}

func TestI2COwnerTimeout(t *testing.T) {
	hw := &fakeI2CHW{block: make(chan struct{})}
	o := newI2COwner(hw, 400_000)
	defer o.stop()

	if err := o.do(0x48, 0, nil, make([]byte, 1), 5); errcode.Of(err) != errcode.Timeout {
		t.Fatalf("stuck transfer: %v", err)
	}
	close(hw.block)
}
