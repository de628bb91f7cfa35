package sim

import (
	"bytes"
	"testing"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
)

// configure enters init with CCE set, the state every protected write needs.
func configure(t *testing.T, p *Peripheral) regs.Bus {
	t.Helper()
	p.Enable()
	r := p.Registers()
	r.Write32(regs.CCCR, regs.CCCR_INIT)
	r.Write32(regs.CCCR, regs.CCCR_INIT|regs.CCCR_CCE)
	if r.Read32(regs.CCCR)&(regs.CCCR_INIT|regs.CCCR_CCE) != regs.CCCR_INIT|regs.CCCR_CCE {
		t.Fatal("not in configuration mode")
	}
	return r
}

func start(r regs.Bus) {
	v := r.Read32(regs.CCCR)
	r.Write32(regs.CCCR, v&^regs.CCCR_CCE)
	r.Write32(regs.CCCR, v&^(regs.CCCR_CCE|regs.CCCR_INIT))
}

func queue(p *Peripheral, mb int, id uint32, extended bool, data []byte) {
	ram := p.MessageRAM()
	var h msgram.Header
	h.SetID(id, extended)
	dlc, _ := msgram.LenToDLC(len(data))
	h.SetDLC(dlc)
	addr := msgram.TxBufferAddr(mb)
	ram.Write32(addr, h.W0)
	ram.Write32(addr+4, h.W1)
	words := make([]uint32, msgram.DataWords)
	msgram.PutBytes(words, data)
	for i := 0; i < msgram.Words(len(data)); i++ {
		ram.Write32(addr+8+uint32(i)*4, words[i])
	}
	p.Registers().Write32(regs.TXBAR, 1<<mb)
}

func TestDisabledReadsZero(t *testing.T) {
	p := New()
	if v := p.Registers().Read32(regs.ENDN); v != 0 {
		t.Fatalf("ENDN before Enable = %08X", v)
	}
	p.Enable()
	if v := p.Registers().Read32(regs.ENDN); v != regs.EndianMarker {
		t.Fatalf("ENDN = %08X", v)
	}
}

func TestInitHandshakeDelay(t *testing.T) {
	p := New(WithAckDelay(3))
	r := configure(t, p)
	start(r)
	reads := 0
	for r.Read32(regs.CCCR)&regs.CCCR_INIT != 0 {
		reads++
		if reads > 10 {
			t.Fatal("INIT never cleared")
		}
	}
	if reads != 2 {
		t.Fatalf("INIT cleared after %d reads, want 2", reads)
	}
	if r.Read32(regs.CCCR)&regs.CCCR_CCE != 0 {
		t.Fatal("CCE survived leaving init")
	}
}

func TestProtectedRegisters(t *testing.T) {
	p := New()
	p.Enable()
	r := p.Registers()
	r.Write32(regs.NBTP, 0x1234)
	if p.Violations() != 1 || r.Read32(regs.NBTP) == 0x1234 {
		t.Fatal("NBTP writable without CCE")
	}
	r.Write32(regs.CCCR, regs.CCCR_INIT|regs.CCCR_CCE)
	r.Write32(regs.CCCR, regs.CCCR_INIT|regs.CCCR_CCE|regs.CCCR_MON)
	if r.Read32(regs.CCCR)&regs.CCCR_MON == 0 {
		t.Fatal("MON not set in configuration mode")
	}
	r.Write32(regs.TEST, regs.TEST_LBCK)
	if r.Read32(regs.TEST)&regs.TEST_LBCK != 0 {
		t.Fatal("TEST writable without CCCR.TEST")
	}
}

func TestPowerDown(t *testing.T) {
	p := New()
	r := configure(t, p)
	start(r)
	r.Write32(regs.CCCR, r.Read32(regs.CCCR)|regs.CCCR_CSR)
	v := r.Read32(regs.CCCR)
	if v&regs.CCCR_CSA == 0 || v&regs.CCCR_INIT == 0 {
		t.Fatalf("CCCR after clock stop request = %08X", v)
	}
}

func TestTxQueueAndCancel(t *testing.T) {
	p := New()
	r := configure(t, p)
	start(r)

	queue(p, 0, 0x100, false, []byte{1})
	queue(p, 1, 0x080, false, []byte{2})
	fqs := r.Read32(regs.TXFQS)
	if regs.TXFQS_TFFL.Get(fqs) != 1 || regs.TXFQS_TFQPI.Get(fqs) != 2 {
		t.Fatalf("TXFQS = %08X", fqs)
	}

	p.LoseCancelRace(0)
	r.Write32(regs.TXBCR, 1)
	if r.Read32(regs.TXBTO)&1 == 0 || r.Read32(regs.TXBCF)&1 == 0 {
		t.Fatal("lost cancel race should report transmitted and cancel finished")
	}

	if !p.Step() {
		t.Fatal("nothing sent")
	}
	sent := p.Transmitted()
	if len(sent) != 2 || sent[1].ID != 0x080 {
		t.Fatalf("sent %v", sent)
	}
	if r.Read32(regs.TXBRP) != 0 {
		t.Fatal("still pending")
	}
}

func TestArbitrationOrder(t *testing.T) {
	p := New()
	r := configure(t, p)
	start(r)
	queue(p, 0, 0x300, false, nil)
	queue(p, 1, 0x100, false, nil)
	queue(p, 2, 0x200, false, nil)
	if n := p.Flush(10); n != 3 {
		t.Fatalf("flushed %d", n)
	}
	var got []uint32
	for _, f := range p.Transmitted() {
		got = append(got, f.ID)
	}
	if got[0] != 0x100 || got[1] != 0x200 || got[2] != 0x300 {
		t.Fatalf("order %X", got)
	}
}

func TestReceiveFilters(t *testing.T) {
	p := New()
	r := configure(t, p)
	ram := p.MessageRAM()
	// reject everything that does not match, one dual filter into FIFO1
	r.Write32(regs.RXGFC, regs.RXGFC_LSS.Set(regs.RXGFC_ANFS.Set(0, 2), 1))
	ram.Write32(msgram.StandardFilterAddr(0), msgram.StandardFilter{
		Type: msgram.FilterDual, Config: msgram.ConfigFIFO1, ID1: 0x10, ID2: 0x20,
	}.Encode())
	start(r)

	for _, id := range []uint32{0x10, 0x11, 0x20} {
		if err := p.Inject(Frame{ID: id, Data: []byte{byte(id)}}); err != nil {
			t.Fatal(err)
		}
	}
	if p.RxFill(0) != 0 || p.RxFill(1) != 2 {
		t.Fatalf("fill levels %d %d", p.RxFill(0), p.RxFill(1))
	}
	h := msgram.Header{
		W0: ram.Read32(msgram.RxElementAddr(1, 1)),
		W1: ram.Read32(msgram.RxElementAddr(1, 1) + 4),
	}
	if h.ID() != 0x20 || h.FIDX() != 0 || h.ANMF() || h.Len() != 1 {
		t.Fatalf("element header %08X %08X", h.W0, h.W1)
	}
}

func TestFIFOOverrunAndAck(t *testing.T) {
	p := New()
	r := configure(t, p)
	start(r)
	for i := 0; i < 4; i++ {
		if err := p.Inject(Frame{ID: uint32(i)}); err != nil {
			t.Fatal(err)
		}
	}
	s := r.Read32(regs.RXF0S)
	if regs.RXFS_FL.Get(s) != 3 || regs.RXFS_F.Get(s) != 1 || regs.RXFS_L.Get(s) != 1 {
		t.Fatalf("RXF0S = %08X", s)
	}
	r.Write32(regs.RXF0A, 0)
	s = r.Read32(regs.RXF0S)
	if regs.RXFS_FL.Get(s) != 2 || regs.RXFS_GI.Get(s) != 1 {
		t.Fatalf("RXF0S after ack = %08X", s)
	}
	r.Write32(regs.IR, regs.IR_RF0L)
	if regs.RXFS_L.Get(r.Read32(regs.RXF0S)) != 0 {
		t.Fatal("lost flag not cleared with IR")
	}
}

func TestBusDelivery(t *testing.T) {
	bus := NewBus()
	a, b := New(), New()
	for _, p := range []*Peripheral{a, b} {
		if err := bus.Attach(p); err != nil {
			t.Fatal(err)
		}
		start(configure(t, p))
	}
	queue(a, 0, 0x123, false, []byte{0xDE, 0xAD})
	if !bus.Step() {
		t.Fatal("no frame on bus")
	}
	if b.RxFill(0) != 1 {
		t.Fatal("peer did not receive")
	}
	addr := msgram.RxElementAddr(0, 0) + 8
	w := b.MessageRAM().Read32(addr)
	if got := msgram.Bytes(make([]byte, 2), []uint32{w}, 2); !bytes.Equal(got, []byte{0xDE, 0xAD}) {
		t.Fatalf("payload % X", got)
	}
	if a.RxFill(0) != 0 {
		t.Fatal("sender received its own frame outside loopback")
	}
}

func TestAckError(t *testing.T) {
	bus := NewBus()
	a := New()
	if err := bus.Attach(a); err != nil {
		t.Fatal(err)
	}
	r := configure(t, a)
	start(r)
	queue(a, 0, 0x1, false, nil)
	bus.Step()
	ecr := r.Read32(regs.ECR)
	if regs.ECR_TEC.Get(ecr) != 8 || regs.ECR_CEL.Get(ecr) != 1 {
		t.Fatalf("ECR = %08X", ecr)
	}
	if regs.ECR_CEL.Get(r.Read32(regs.ECR)) != 0 {
		t.Fatal("CEL not cleared by read")
	}
	if regs.PSR_LEC.Get(r.Read32(regs.PSR)) != uint32(LECAck) {
		t.Fatal("LEC not ack error")
	}
	if a.Pending() != 1 {
		t.Fatal("frame should stay pending for retransmission")
	}
}

func TestInternalLoopback(t *testing.T) {
	bus := NewBus()
	a, b := New(), New()
	bus.Attach(a)
	bus.Attach(b)
	start(configure(t, b))
	r := configure(t, a)
	r.Write32(regs.CCCR, r.Read32(regs.CCCR)|regs.CCCR_TEST|regs.CCCR_MON)
	r.Write32(regs.TEST, regs.TEST_LBCK)
	start(r)
	queue(a, 2, 0x55, false, []byte{1, 2, 3})
	bus.Step()
	if a.RxFill(0) != 1 || b.RxFill(0) != 0 {
		t.Fatalf("loopback fill a=%d b=%d", a.RxFill(0), b.RxFill(0))
	}
}

func TestTimestamp(t *testing.T) {
	p := New()
	r := configure(t, p)
	r.Write32(regs.TSCC, regs.TSCC_TSS.Set(regs.TSCC_TCP.Set(0, 3), 1))
	start(r)
	p.Tick(10)
	if v := r.Read32(regs.TSCV); v != 2 {
		t.Fatalf("TSCV = %d, want 2", v)
	}
}
