package scu

import "tricore-hal-go/x/mathx"

// planTolerancePermille bounds how far a planned domain frequency may
// sit from its target: 0.1%.
const planTolerancePermille = 1

// PlanClock searches the PLL divider space for a configuration whose
// derived frequencies land within 0.1% of every nonzero target. The
// search order is fixed (ascending P, N, K2), so identical inputs yield
// the identical plan. Zero targets leave the domain stopped.
func PlanClock(osc, coreHz, perHz, canHz Hertz) (ClockConfig, error) {
	targets := [...]struct {
		hz  Hertz
		max Hertz
	}{
		{coreHz, MaxCoreClock},
		{perHz, MaxPerClock},
		{canHz, MaxCANClock},
	}

	best := ClockConfig{}
	bestScore := uint32(1 << 30)

	for p := uint8(1); p <= 4; p++ {
		for n := uint8(10); n <= 64; n++ {
			vco := osc * Hertz(n) / Hertz(p)
			if !mathx.Between(vco, MinVCO, MaxVCO) {
				continue
			}
			for k2 := uint8(1); k2 <= 8; k2++ {
				fpll := vco / Hertz(k2)
				score := uint32(0)
				feasible := true
				for _, tg := range targets {
					if tg.hz == 0 {
						continue
					}
					if tg.hz > tg.max {
						feasible = false
						break
					}
					div := domainDivider(fpll, tg.hz)
					if div == 0 {
						feasible = false
						break
					}
					derived := fpll / Hertz(div)
					if derived > tg.max {
						feasible = false
						break
					}
					dev := permilleDiff(derived, tg.hz)
					if dev > planTolerancePermille {
						feasible = false
						break
					}
					score += dev
				}
				if !feasible || score >= bestScore {
					continue
				}
				bestScore = score
				best = ClockConfig{
					OscillatorHz: osc,
					NDiv:         n,
					PDiv:         p,
					K2Div:        k2,
					CoreHz:       coreHz,
					PerHz:        perHz,
					CANHz:        canHz,
				}
				if score == 0 {
					return best, nil
				}
			}
		}
	}
	if bestScore == 1<<30 {
		return ClockConfig{}, ErrNoPlan
	}
	return best, nil
}

func permilleDiff(a, b Hertz) uint32 {
	if b == 0 {
		return 0
	}
	return mathx.AbsDiff(uint32(a), uint32(b)) * 1000 / uint32(b)
}
