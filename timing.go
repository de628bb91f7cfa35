package fdcan

import (
	"fmt"
	"math"

	"github.com/roffe/fdcan/pkg/regs"
)

type timingLimits struct {
	prescaler, seg1, seg2 uint32
}

var (
	nominalLimits = timingLimits{
		prescaler: regs.NBTP_NBRP.Max() + 1,
		seg1:      regs.NBTP_NTSEG1.Max() + 1,
		seg2:      regs.NBTP_NTSEG2.Max() + 1,
	}
	dataLimits = timingLimits{
		prescaler: regs.DBTP_DBRP.Max() + 1,
		seg1:      regs.DBTP_DTSEG1.Max() + 1,
		seg2:      regs.DBTP_DTSEG2.Max() + 1,
	}
)

// calcTiming returns prescaler, seg1 and seg2 in time quanta (not register
// values). The smallest prescaler with the best sample point is chosen.
func calcTiming(clock, bitrate uint32, samplePoint float64, lim timingLimits) (brp, seg1, seg2 uint32, err error) {
	if clock == 0 || bitrate == 0 || bitrate > clock {
		return 0, 0, 0, fmt.Errorf("%w: cannot derive %d bit/s from %d Hz", ErrInvalidConfig, bitrate, clock)
	}
	if samplePoint <= 0 || samplePoint >= 1 {
		return 0, 0, 0, fmt.Errorf("%w: sample point %.3f not in (0, 1)", ErrInvalidConfig, samplePoint)
	}
	bestErr := math.Inf(1)
	for p := uint32(1); p <= lim.prescaler; p++ {
		div := uint64(bitrate) * uint64(p)
		if uint64(clock)%div != 0 {
			continue
		}
		tq := uint32(uint64(clock) / div)
		if tq < 4 || tq > 1+lim.seg1+lim.seg2 {
			continue
		}
		r := max(int(math.Round(samplePoint*float64(tq)))-1, 1)
		s1 := min(uint32(r), lim.seg1, tq-2)
		s2 := tq - 1 - s1
		if s2 > lim.seg2 {
			s2 = lim.seg2
			s1 = tq - 1 - s2
			if s1 > lim.seg1 {
				continue
			}
		}
		e := math.Abs(float64(1+s1)/float64(tq) - samplePoint)
		if e < bestErr-1e-9 {
			bestErr = e
			brp, seg1, seg2 = p, s1, s2
		}
	}
	if brp == 0 {
		return 0, 0, 0, fmt.Errorf("%w: no bit timing for %d bit/s at %d Hz", ErrInvalidConfig, bitrate, clock)
	}
	return brp, seg1, seg2, nil
}

// CalcNominalBitTiming finds a nominal bit timing for bitrate given the
// core clock in Hz. samplePoint is a fraction of the bit, 0.875 is common.
// The synchronization jump width is set as wide as phase segment 2.
func CalcNominalBitTiming(clock, bitrate uint32, samplePoint float64) (NominalBitTiming, error) {
	brp, s1, s2, err := calcTiming(clock, bitrate, samplePoint, nominalLimits)
	if err != nil {
		return NominalBitTiming{}, err
	}
	return NominalBitTiming{
		Prescaler:     uint16(brp - 1),
		Seg1:          uint8(s1 - 1),
		Seg2:          uint8(s2 - 1),
		SyncJumpWidth: uint8(s2 - 1),
	}, nil
}

// CalcDataBitTiming is CalcNominalBitTiming for the data phase.
// Transceiver delay compensation is switched on for rates above 1 Mbit/s.
func CalcDataBitTiming(clock, bitrate uint32, samplePoint float64) (DataBitTiming, error) {
	brp, s1, s2, err := calcTiming(clock, bitrate, samplePoint, dataLimits)
	if err != nil {
		return DataBitTiming{}, err
	}
	return DataBitTiming{
		TransceiverDelayCompensation: bitrate > 1_000_000,
		Prescaler:                    uint8(brp - 1),
		Seg1:                         uint8(s1 - 1),
		Seg2:                         uint8(s2 - 1),
		SyncJumpWidth:                uint8(s2 - 1),
	}, nil
}

func bitTime(prescaler, seg1, seg2 uint32) uint32 {
	return (prescaler + 1) * (3 + seg1 + seg2)
}

// Bitrate returns the bit rate the timing produces from clock.
func (t NominalBitTiming) Bitrate(clock uint32) uint32 {
	return clock / bitTime(uint32(t.Prescaler), uint32(t.Seg1), uint32(t.Seg2))
}

// SamplePoint returns the sample point as a fraction of the bit.
func (t NominalBitTiming) SamplePoint() float64 {
	return float64(2+uint32(t.Seg1)) / float64(3+uint32(t.Seg1)+uint32(t.Seg2))
}

func (t DataBitTiming) Bitrate(clock uint32) uint32 {
	return clock / bitTime(uint32(t.Prescaler), uint32(t.Seg1), uint32(t.Seg2))
}

func (t DataBitTiming) SamplePoint() float64 {
	return float64(2+uint32(t.Seg1)) / float64(3+uint32(t.Seg1)+uint32(t.Seg2))
}
