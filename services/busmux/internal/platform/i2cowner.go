package platform

import (
	"time"

	"busmux-go/errcode"
)

// request posted to the per-block worker
type i2cReq struct {
	addr uint16
	hz   uint32
	w, r []byte
	done chan error // buffered(1); worker replies best-effort
}

// i2cHW is the part of machine.I2C the worker drives.
type i2cHW interface {
	SetBaudRate(br uint32) error
	Tx(addr uint16, w, r []byte) error
}

// i2cOwner serialises one I2C block behind a goroutine so a caller can give
// up on a stuck transfer after its timeout.
type i2cOwner struct {
	hw   i2cHW
	hz   uint32
	reqs chan i2cReq
	quit chan struct{}
}

func newI2COwner(hw i2cHW, hz uint32) *i2cOwner {
	o := &i2cOwner{hw: hw, hz: hz, reqs: make(chan i2cReq, 8), quit: make(chan struct{})}
	go o.loop()
	return o
}

func (o *i2cOwner) loop() {
	for {
		select {
		case req := <-o.reqs:
			// A failed rate switch keeps the old rate and skips the transfer.
			var err error
			if req.hz != 0 && req.hz != o.hz {
				if err = o.hw.SetBaudRate(req.hz); err == nil {
					o.hz = req.hz
				}
			}
			if err == nil {
				err = o.hw.Tx(req.addr, req.w, req.r)
			}
			select {
			case req.done <- err:
			default:
			}
		case <-o.quit:
			return
		}
	}
}

func (o *i2cOwner) stop() { close(o.quit) }

// do posts a transfer and waits up to timeoutMS for both the queue and the
// completion.
func (o *i2cOwner) do(addr uint16, hz uint32, w, r []byte, timeoutMS int) error {
	req := i2cReq{addr: addr, hz: hz, w: w, r: r, done: make(chan error, 1)}
	t := time.NewTimer(time.Duration(timeoutMS) * time.Millisecond)
	defer t.Stop()
	select {
	case o.reqs <- req:
	case <-t.C:
		return errcode.Timeout
	}
	select {
	case err := <-req.done:
		return err
	case <-t.C:
		return errcode.Timeout
	}
}
