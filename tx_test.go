package fdcan

import (
	"errors"
	"testing"

	"github.com/roffe/fdcan/pkg/msgram"
	"github.com/roffe/fdcan/pkg/regs"
	"github.com/roffe/fdcan/pkg/sim"
)

func newNormal(t *testing.T) (*sim.Peripheral, *FdCan) {
	t.Helper()
	p, f := newConfig(t)
	return p, into(t, f, Normal)
}

func std(id uint32) TxFrameHeader {
	return TxFrameHeader{Len: 1, ID: MustStandardID(id)}
}

func ext(id uint32) TxFrameHeader {
	return TxFrameHeader{Len: 1, ID: MustExtendedID(id)}
}

func mustTransmit(t *testing.T, f *FdCan, h TxFrameHeader) Transmission {
	t.Helper()
	tr, err := f.Transmit(h, WriteBytes([]byte{byte(h.ID.Raw())}))
	if err != nil {
		t.Fatalf("Transmit(%s) error = %v", h.ID, err)
	}
	return tr
}

func pendingID(p *sim.Peripheral, mb Mailbox) uint32 {
	addr := msgram.TxBufferAddr(int(mb))
	h := msgram.Header{W0: p.MessageRAM().Read32(addr)}
	return h.ID()
}

func TestTransmitScenario(t *testing.T) {
	p, f := newNormal(t)

	a := mustTransmit(t, f, std(0x100))
	if a.Mailbox != Mailbox0 || a.Displaced {
		t.Fatalf("A = %+v, want mailbox 0 without displacement", a)
	}
	mustTransmit(t, f, std(0x200))
	mustTransmit(t, f, std(0x300))
	if p.Pending() != 0b111 {
		t.Fatalf("pending = %03b, want 111", p.Pending())
	}

	b := mustTransmit(t, f, std(0x050))
	if b.Mailbox != Mailbox0 || !b.Displaced {
		t.Fatalf("B = %+v, want mailbox 0 displaced", b)
	}
	if got := pendingID(p, Mailbox0); got != 0x050 {
		t.Errorf("mailbox 0 holds %03X, want 050", got)
	}

	// 0x050, 0x200 and 0x300 all win against 0x7FF
	if _, err := f.Transmit(std(0x7FF), nil); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("C error = %v, want %v", err, ErrWouldBlock)
	}
	if p.Pending() != 0b111 {
		t.Errorf("pending = %03b after would block", p.Pending())
	}
}

func TestTransmitEviction(t *testing.T) {
	tests := []struct {
		name      string
		pending   [3]TxFrameHeader
		incoming  TxFrameHeader
		want      Mailbox
		wantBlock bool
	}{
		{"first eligible", [3]TxFrameHeader{std(0x010), std(0x300), std(0x200)}, std(0x100), Mailbox1, false},
		{"last eligible", [3]TxFrameHeader{std(0x010), std(0x020), std(0x200)}, std(0x100), Mailbox2, false},
		{"equal priority", [3]TxFrameHeader{std(0x100), std(0x100), std(0x100)}, std(0x100), 0, true},
		{"all higher", [3]TxFrameHeader{std(0x001), std(0x002), std(0x003)}, std(0x004), 0, true},
		{"standard beats extended", [3]TxFrameHeader{ext(0x100 << 18), std(0x001), std(0x002)}, std(0x100), Mailbox0, false},
		{"extended loses to standard", [3]TxFrameHeader{std(0x100), std(0x001), std(0x002)}, ext(0x100 << 18), 0, true},
		{"lower extended id wins", [3]TxFrameHeader{ext(0x1000), ext(0x0FFF), ext(0x0FFE)}, ext(0x0001), Mailbox0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, f := newNormal(t)
			for i, h := range tt.pending {
				if tr := mustTransmit(t, f, h); tr.Mailbox != Mailbox(i) {
					t.Fatalf("setup frame %d went to %s", i, tr.Mailbox)
				}
			}
			tr, err := f.Transmit(tt.incoming, nil)
			if tt.wantBlock {
				if !errors.Is(err, ErrWouldBlock) {
					t.Fatalf("Transmit() error = %v, want %v", err, ErrWouldBlock)
				}
				for i, h := range tt.pending {
					if got := pendingID(p, Mailbox(i)); got != h.ID.Raw() {
						t.Errorf("mailbox %d changed to %X", i, got)
					}
				}
				return
			}
			if err != nil {
				t.Fatalf("Transmit() error = %v", err)
			}
			if tr.Mailbox != tt.want || !tr.Displaced {
				t.Errorf("Transmit() = %+v, want %s displaced", tr, tt.want)
			}
		})
	}
}

func TestTransmitNeverBlocksWithFreeMailbox(t *testing.T) {
	for free := Mailbox(0); free < mailboxCount; free++ {
		p, f := newNormal(t)
		for id := uint32(0); id < 3; id++ {
			mustTransmit(t, f, std(id))
		}
		if ok, err := f.Abort(free); err != nil || !ok {
			t.Fatalf("Abort(%d) = %t, %v", free, ok, err)
		}
		tr, err := f.Transmit(std(0x7FF), nil)
		if err != nil {
			t.Fatalf("free %s: Transmit() error = %v", free, err)
		}
		if tr.Mailbox != free || tr.Displaced {
			t.Errorf("free %s: Transmit() = %+v", free, tr)
		}
		if p.Pending() != 0b111 {
			t.Errorf("pending = %03b", p.Pending())
		}
	}
}

func TestTransmitLostRace(t *testing.T) {
	p, f := newNormal(t)
	mustTransmit(t, f, std(0x300))
	mustTransmit(t, f, std(0x301))
	mustTransmit(t, f, std(0x302))
	p.LoseCancelRace(0)

	tr, err := f.Transmit(std(0x001), nil)
	if err != nil {
		t.Fatal(err)
	}
	if tr.Mailbox != Mailbox0 || tr.Displaced {
		t.Errorf("Transmit() = %+v, want mailbox 0 not displaced", tr)
	}
	sent := p.Transmitted()
	if len(sent) != 1 || sent[0].ID != 0x300 {
		t.Errorf("transmitted = %v, want the frame from mailbox 0", sent)
	}
}

func TestTransmitPreserve(t *testing.T) {
	_, f := newNormal(t)
	old := TxFrameHeader{Len: 5, ID: MustStandardID(0x400), Marker: 9}
	if _, err := f.Transmit(old, WriteBytes([]byte{1, 2, 3, 4, 5})); err != nil {
		t.Fatal(err)
	}
	mustTransmit(t, f, std(0x001))
	mustTransmit(t, f, std(0x002))

	var gotMB Mailbox = -1
	var gotHeader TxFrameHeader
	var gotData []byte
	tr, err := f.TransmitPreserve(std(0x003), nil, func(mb Mailbox, h TxFrameHeader, words []uint32) {
		gotMB, gotHeader = mb, h
		gotData = msgram.Bytes(make([]byte, h.Len), words, h.Len)
	})
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Displaced || gotMB != Mailbox0 {
		t.Fatalf("Transmit() = %+v, callback mailbox %d", tr, gotMB)
	}
	if gotHeader.ID != old.ID || gotHeader.Len != 5 || gotHeader.Marker != 9 {
		t.Errorf("displaced header = %+v", gotHeader)
	}
	if string(gotData) != "\x01\x02\x03\x04\x05" {
		t.Errorf("displaced data = % X", gotData)
	}
}

func TestAbort(t *testing.T) {
	p, f := newNormal(t)

	before := p.Peek(regs.TXBCF)
	ok, err := f.Abort(Mailbox1)
	if err != nil || ok {
		t.Fatalf("Abort() on empty mailbox = %t, %v", ok, err)
	}
	if p.Peek(regs.TXBCF) != before {
		t.Error("Abort() on empty mailbox touched the hardware")
	}

	mustTransmit(t, f, std(0x123))
	ok, err = f.Abort(Mailbox0)
	if err != nil || !ok {
		t.Fatalf("Abort() = %t, %v, want true", ok, err)
	}
	if idle, _ := f.IsTransmitterIdle(); !idle {
		t.Error("transmitter not idle after abort")
	}

	mustTransmit(t, f, std(0x124))
	p.LoseCancelRace(0)
	if ok, _ := f.Abort(Mailbox0); ok {
		t.Error("Abort() reported success for a frame already sent")
	}

	if _, err := f.Abort(Mailbox(3)); err == nil {
		t.Error("Abort() accepted mailbox 3")
	}
}

func TestTransmitValidation(t *testing.T) {
	tests := []struct {
		name string
		h    TxFrameHeader
	}{
		{"invalid fd length", TxFrameHeader{Len: 13, ID: MustStandardID(1), FrameFormat: FD}},
		{"classic too long", TxFrameHeader{Len: 12, ID: MustStandardID(1)}},
		{"classic brs", TxFrameHeader{Len: 8, ID: MustStandardID(1), BitRateSwitching: true}},
		{"fd remote", TxFrameHeader{Len: 0, ID: MustStandardID(1), FrameFormat: FD, Remote: true}},
		{"negative length", TxFrameHeader{Len: -1, ID: MustStandardID(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, f := newNormal(t)
			called := false
			_, err := f.Transmit(tt.h, func([]uint32) { called = true })
			var fe *FrameError
			if !errors.As(err, &fe) || !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("Transmit() error = %v, want *FrameError", err)
			}
			if called || p.Pending() != 0 {
				t.Error("invalid header reached the hardware")
			}
		})
	}
}

func TestPayloadWriterWords(t *testing.T) {
	_, f := newNormal(t)
	for _, n := range []int{0, 1, 4, 5, 8, 12, 64} {
		h := TxFrameHeader{Len: n, ID: MustStandardID(1), FrameFormat: FD}
		got := -1
		if _, err := f.Transmit(h, func(w []uint32) { got = len(w) }); err != nil {
			t.Fatal(err)
		}
		if want := (n + 3) / 4; got != want {
			t.Errorf("len %d: writer got %d words, want %d", n, got, want)
		}
		if _, err := f.Abort(Mailbox0); err != nil {
			t.Fatal(err)
		}
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	_, f := newNormal(t)
	for n := 0; n <= 64; n++ {
		if !msgram.ValidLen(n) {
			continue
		}
		for _, id := range []Identifier{MustStandardID(0x7FF), MustExtendedID(0x1ABCDEF5)} {
			h := TxFrameHeader{Len: n, ID: id, FrameFormat: FD, BitRateSwitching: true, Marker: uint8(n)}
			tr, err := f.Transmit(h, nil)
			if err != nil {
				t.Fatal(err)
			}
			got := txHeaderFromElement(f.tx.header(tr.Mailbox))
			if got != h {
				t.Errorf("round trip = %+v, want %+v", got, h)
			}
			if _, err := f.Abort(tr.Mailbox); err != nil {
				t.Fatal(err)
			}
		}
	}
}

func TestTxEvent(t *testing.T) {
	p, f := newNormal(t)
	if _, err := f.tx.TxEvent(); !errors.Is(err, ErrWouldBlock) {
		t.Fatalf("TxEvent() on empty FIFO error = %v", err)
	}
	h := TxFrameHeader{Len: 2, ID: MustStandardID(0x321), Marker: 0xA5, StoreTxEvent: true}
	if _, err := f.Transmit(h, WriteBytes([]byte{1, 2})); err != nil {
		t.Fatal(err)
	}
	p.Flush(3)
	ev, err := f.tx.TxEvent()
	if err != nil {
		t.Fatalf("TxEvent() error = %v", err)
	}
	if ev.ID != h.ID || ev.Marker != 0xA5 || ev.Len != 2 || ev.Cancelled {
		t.Errorf("TxEvent() = %+v", ev)
	}
	if _, err := f.tx.TxEvent(); !errors.Is(err, ErrWouldBlock) {
		t.Errorf("event not acknowledged: %v", err)
	}
}

func TestClearRequestCompletedFlag(t *testing.T) {
	_, f := newNormal(t)
	if err := f.tx.ClearRequestCompletedFlag(Mailbox0); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ClearRequestCompletedFlag() error = %v, want %v", err, ErrUnsupported)
	}
}
