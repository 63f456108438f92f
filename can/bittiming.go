package can

import (
	"errors"

	"tricore-hal-go/x/mathx"
)

// Bit-time construction limits. A nominal bit is the sync quantum plus
// the two programmable segments; total quanta per bit must keep enough
// resolution for the sample point without exceeding the segment fields.
const (
	minQuanta = 8
	maxQuanta = 25

	maxPrescaler = 512
	maxTSeg1     = 64
	maxTSeg2     = 16
	maxSJW       = 4
)

var (
	ErrUnachievable = errors.New("can: no exact bit timing for this bitrate")
	ErrFreqTooLow   = errors.New("can: node clock too low for this bitrate")
	ErrFreqTooHigh  = errors.New("can: node clock too high for this bitrate")
	ErrBadBitrate   = errors.New("can: bitrate must be positive")
)

// BitTiming is a resolved nominal bit time. All fields are 1-based
// human values; the register encoding subtracts one per field.
type BitTiming struct {
	Prescaler uint16 // quantum = Prescaler / clock
	TSeg1     uint8  // quanta before the sample point, sync excluded
	TSeg2     uint8  // quanta after the sample point
	SJW       uint8  // resynchronisation jump width, in quanta
}

// Quanta is the total time quanta per bit (sync + TSeg1 + TSeg2).
func (bt BitTiming) Quanta() uint8 { return 1 + bt.TSeg1 + bt.TSeg2 }

// SamplePointPct is the realised sample point position in percent.
func (bt BitTiming) SamplePointPct() uint16 {
	return uint16(1+bt.TSeg1) * 100 / uint16(bt.Quanta())
}

// Bitrate is the realised bit rate for the given node clock.
func (bt BitTiming) Bitrate(clockHz uint32) uint32 {
	return clockHz / (uint32(bt.Prescaler) * uint32(bt.Quanta()))
}

// ComputeBitTiming derives the bit time for a bitrate and target sample
// point from the node clock. Every prescaler that divides the bit time
// into a whole number of quanta in range is a candidate; the split with
// the smallest sample-point deviation wins, the lowest prescaler
// breaking ties, so equal inputs always produce the same timing. The
// best candidate must still sit within tolerancePct of the target.
func ComputeBitTiming(clockHz, bitrate uint32, samplePct, tolerancePct uint16) (BitTiming, error) {
	if bitrate == 0 {
		return BitTiming{}, ErrBadBitrate
	}
	if clockHz < bitrate*minQuanta {
		return BitTiming{}, ErrFreqTooLow
	}
	if uint64(clockHz) > uint64(bitrate)*maxQuanta*maxPrescaler {
		return BitTiming{}, ErrFreqTooHigh
	}
	var best BitTiming
	bestDev := uint16(^uint16(0))
	for presc := uint32(1); presc <= maxPrescaler; presc++ {
		step := presc * bitrate
		if clockHz%step != 0 {
			continue
		}
		quanta := clockHz / step
		if quanta > maxQuanta {
			continue
		}
		if quanta < minQuanta {
			break // quanta only shrink as the prescaler grows
		}
		bt, dev, ok := splitQuanta(uint8(quanta), samplePct)
		if !ok || dev >= bestDev {
			continue
		}
		bt.Prescaler = uint16(presc)
		best = bt
		bestDev = dev
		if dev == 0 {
			break
		}
	}
	if bestDev == ^uint16(0) || bestDev > tolerancePct {
		return BitTiming{}, ErrUnachievable
	}
	return best, nil
}

// splitQuanta places the sample point inside a bit of the given width
// and reports the realised deviation from the target, in percent.
func splitQuanta(quanta uint8, samplePct uint16) (BitTiming, uint16, bool) {
	// Sync + TSeg1 quanta sit before the sample point.
	before := mathx.RoundDiv(uint32(quanta)*uint32(samplePct), 100)
	tseg1 := mathx.Clamp(before-1, 1, uint32(quanta)-2)
	tseg2 := uint32(quanta) - 1 - tseg1
	if tseg1 > maxTSeg1 || tseg2 > maxTSeg2 {
		return BitTiming{}, 0, false
	}
	bt := BitTiming{
		TSeg1: uint8(tseg1),
		TSeg2: uint8(tseg2),
		SJW:   uint8(mathx.Min(tseg2, maxSJW)),
	}
	return bt, mathx.AbsDiff(bt.SamplePointPct(), samplePct), true
}
