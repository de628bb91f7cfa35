package regs

// Register offsets within the FDCAN register block.
const (
	CREL   uint32 = 0x000 // core release
	ENDN   uint32 = 0x004 // endian
	DBTP   uint32 = 0x00C // data bit timing and prescaler
	TEST   uint32 = 0x010 // test
	RWD    uint32 = 0x014 // RAM watchdog
	CCCR   uint32 = 0x018 // CC control
	NBTP   uint32 = 0x01C // nominal bit timing and prescaler
	TSCC   uint32 = 0x020 // timestamp counter configuration
	TSCV   uint32 = 0x024 // timestamp counter value
	TOCC   uint32 = 0x028 // timeout counter configuration
	TOCV   uint32 = 0x02C // timeout counter value
	ECR    uint32 = 0x040 // error counter
	PSR    uint32 = 0x044 // protocol status
	TDCR   uint32 = 0x048 // transmitter delay compensation
	IR     uint32 = 0x050 // interrupt
	IE     uint32 = 0x054 // interrupt enable
	ILS    uint32 = 0x058 // interrupt line select
	ILE    uint32 = 0x05C // interrupt line enable
	RXGFC  uint32 = 0x080 // global filter configuration
	XIDAM  uint32 = 0x084 // extended ID AND mask
	HPMS   uint32 = 0x088 // high priority message status
	RXF0S  uint32 = 0x090 // Rx FIFO 0 status
	RXF0A  uint32 = 0x094 // Rx FIFO 0 acknowledge
	RXF1S  uint32 = 0x098 // Rx FIFO 1 status
	RXF1A  uint32 = 0x09C // Rx FIFO 1 acknowledge
	TXBC   uint32 = 0x0C0 // Tx buffer configuration
	TXFQS  uint32 = 0x0C4 // Tx FIFO/queue status
	TXBRP  uint32 = 0x0C8 // Tx buffer request pending
	TXBAR  uint32 = 0x0CC // Tx buffer add request
	TXBCR  uint32 = 0x0D0 // Tx buffer cancellation request
	TXBTO  uint32 = 0x0D4 // Tx buffer transmission occurred
	TXBCF  uint32 = 0x0D8 // Tx buffer cancellation finished
	TXBTIE uint32 = 0x0DC // Tx buffer transmission interrupt enable
	TXBCIE uint32 = 0x0E0 // Tx buffer cancellation finished interrupt enable
	TXEFS  uint32 = 0x0E4 // Tx event FIFO status
	TXEFA  uint32 = 0x0E8 // Tx event FIFO acknowledge
	CKDIV  uint32 = 0x100 // clock divider

	// BlockSize is the size of the register block in bytes.
	BlockSize uint32 = 0x104
)

// EndianMarker is the constant value of the ENDN register. Reading anything
// else means the register block is not an FDCAN or the bus is wired wrong.
const EndianMarker uint32 = 0x87654321

// CCCR bits.
const (
	CCCR_INIT uint32 = 1 << 0
	CCCR_CCE  uint32 = 1 << 1
	CCCR_ASM  uint32 = 1 << 2
	CCCR_CSA  uint32 = 1 << 3
	CCCR_CSR  uint32 = 1 << 4
	CCCR_MON  uint32 = 1 << 5
	CCCR_DAR  uint32 = 1 << 6
	CCCR_TEST uint32 = 1 << 7
	CCCR_FDOE uint32 = 1 << 8
	CCCR_BRSE uint32 = 1 << 9
	CCCR_PXHD uint32 = 1 << 12
	CCCR_EFBI uint32 = 1 << 13
	CCCR_TXP  uint32 = 1 << 14
	CCCR_NISO uint32 = 1 << 15
)

// TEST bits.
const (
	TEST_LBCK uint32 = 1 << 4
	TEST_RX   uint32 = 1 << 7
)

// ILE bits.
const (
	ILE_EINT0 uint32 = 1 << 0
	ILE_EINT1 uint32 = 1 << 1
)

// RXGFC bits.
const (
	RXGFC_RRFE uint32 = 1 << 0
	RXGFC_RRFS uint32 = 1 << 1
	RXGFC_F1OM uint32 = 1 << 8
	RXGFC_F0OM uint32 = 1 << 9
)

// TXBC bits.
const (
	TXBC_TFQM uint32 = 1 << 24
)

// Field is a contiguous bit field inside a 32-bit register.
type Field struct {
	Shift uint8
	Width uint8
}

// Mask returns the in-place mask of the field.
func (f Field) Mask() uint32 {
	return f.Max() << f.Shift
}

// Max returns the largest value the field can hold.
func (f Field) Max() uint32 {
	if f.Width >= 32 {
		return 0xFFFFFFFF
	}
	return (1 << f.Width) - 1
}

// Get extracts the field from a register value.
func (f Field) Get(reg uint32) uint32 {
	return (reg >> f.Shift) & f.Max()
}

// Set returns reg with the field replaced by v. v is masked to the field width.
func (f Field) Set(reg, v uint32) uint32 {
	return (reg &^ f.Mask()) | ((v & f.Max()) << f.Shift)
}

// Bit timing fields.
var (
	NBTP_NSJW   = Field{25, 7}
	NBTP_NBRP   = Field{16, 9}
	NBTP_NTSEG1 = Field{8, 8}
	NBTP_NTSEG2 = Field{0, 7}

	DBTP_TDC    = Field{23, 1}
	DBTP_DBRP   = Field{16, 5}
	DBTP_DTSEG1 = Field{8, 5}
	DBTP_DTSEG2 = Field{4, 4}
	DBTP_DSJW   = Field{0, 4}
)

// Misc configuration fields.
var (
	TEST_TX    = Field{5, 2}
	TSCC_TCP   = Field{16, 4}
	TSCC_TSS   = Field{0, 2}
	TSCV_TSC   = Field{0, 16}
	CKDIV_PDIV = Field{0, 4}
	CREL_REL   = Field{28, 4}
	CREL_STEP  = Field{24, 4}
	CREL_SUB   = Field{20, 4}
	CREL_YEAR  = Field{16, 4}
	CREL_MON   = Field{8, 8}
	CREL_DAY   = Field{0, 8}
)

// Error and protocol status fields.
var (
	ECR_TEC = Field{0, 8}
	ECR_REC = Field{8, 7}
	ECR_RP  = Field{15, 1}
	ECR_CEL = Field{16, 8}

	PSR_LEC  = Field{0, 3}
	PSR_ACT  = Field{3, 2}
	PSR_EP   = Field{5, 1}
	PSR_EW   = Field{6, 1}
	PSR_BO   = Field{7, 1}
	PSR_DLEC = Field{8, 3}
)

// Global filter fields.
var (
	RXGFC_ANFE = Field{2, 2}
	RXGFC_ANFS = Field{4, 2}
	RXGFC_LSS  = Field{16, 5}
	RXGFC_LSE  = Field{24, 4}
	XIDAM_EIDM = Field{0, 29}
)

// Receive FIFO status and acknowledge fields. FIFO 0 and FIFO 1 share the
// same layout.
var (
	RXFS_FL = Field{0, 4}
	RXFS_GI = Field{8, 2}
	RXFS_PI = Field{16, 2}
	RXFS_F  = Field{24, 1}
	RXFS_L  = Field{25, 1}
	RXFA_AI = Field{0, 3}
)

// Transmit queue and event FIFO fields.
var (
	TXFQS_TFFL  = Field{0, 3}
	TXFQS_TFGI  = Field{8, 2}
	TXFQS_TFQPI = Field{16, 2}
	TXFQS_TFQF  = Field{21, 1}

	TXEFS_EFFL = Field{0, 3}
	TXEFS_EFGI = Field{8, 2}
	TXEFS_EFPI = Field{16, 2}
	TXEFS_EFF  = Field{24, 1}
	TXEFS_TEFL = Field{25, 1}
	TXEFA_EFAI = Field{0, 2}
)

// Interrupt register bits (IR, IE and ILS share the layout).
const (
	IR_RF0N uint32 = 1 << 0
	IR_RF0F uint32 = 1 << 1
	IR_RF0L uint32 = 1 << 2
	IR_RF1N uint32 = 1 << 3
	IR_RF1F uint32 = 1 << 4
	IR_RF1L uint32 = 1 << 5
	IR_HPM  uint32 = 1 << 6
	IR_TC   uint32 = 1 << 7
	IR_TCF  uint32 = 1 << 8
	IR_TFE  uint32 = 1 << 9
	IR_TEFN uint32 = 1 << 10
	IR_TEFF uint32 = 1 << 11
	IR_TEFL uint32 = 1 << 12
	IR_TSW  uint32 = 1 << 13
	IR_MRAF uint32 = 1 << 14
	IR_TOO  uint32 = 1 << 15
	IR_ELO  uint32 = 1 << 16
	IR_EP   uint32 = 1 << 17
	IR_EW   uint32 = 1 << 18
	IR_BO   uint32 = 1 << 19
	IR_WDI  uint32 = 1 << 20
	IR_PEA  uint32 = 1 << 21
	IR_PED  uint32 = 1 << 22
	IR_ARA  uint32 = 1 << 23

	IR_ALL uint32 = (1 << 24) - 1
)

// RxFIFOStatus returns the status register offset of FIFO n.
func RxFIFOStatus(n int) uint32 {
	if n == 1 {
		return RXF1S
	}
	return RXF0S
}

// RxFIFOAck returns the acknowledge register offset of FIFO n.
func RxFIFOAck(n int) uint32 {
	if n == 1 {
		return RXF1A
	}
	return RXF0A
}

// RxFIFOLost returns the IR "message lost" bit of FIFO n.
func RxFIFOLost(n int) uint32 {
	if n == 1 {
		return IR_RF1L
	}
	return IR_RF0L
}
