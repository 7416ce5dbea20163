package affinewarp

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// temperatureSchedule returns n perturbation scales log-spaced between
// 10^minTemp and 10^maxTemp. The default order starts at the coldest
// temperature and ends at the hottest; cooling reverses it.
func temperatureSchedule(n int, minTemp, maxTemp float64, cooling bool) []float64 {
	if n <= 0 {
		return nil
	}
	lo, hi := math.Pow(10, minTemp), math.Pow(10, maxTemp)
	var temps []float64
	if n == 1 {
		temps = []float64{lo}
	} else {
		temps = floats.LogSpan(make([]float64, n), lo, hi)
	}
	if cooling {
		floats.Reverse(temps)
	}
	return temps
}

// searchWarps runs one random-search pass over the schedule against a fixed
// template. At every temperature a candidate is drawn for all trials at
// once and each trial keeps it only if its penalized loss strictly improves.
func (m *AffineWarping) searchWarps(data *Tensor, iterations int) {
	s := m.session
	for _, temp := range temperatureSchedule(iterations, m.minTemp, m.maxTemp, m.cooling) {
		cand := s.knots.perturb(m.rng, temp)

		if m.warpReg > 0 {
			warpPenalties(cand, s.newPenalties)
			floats.Scale(m.warpReg, s.newPenalties)
			copy(s.newLosses, s.newPenalties)
		} else {
			for k := range s.newLosses {
				s.newLosses[k] = 0
				s.newPenalties[k] = 0
			}
		}

		warpWithQuadLoss(cand, s.tref, s.template, data, s.newLosses, s.losses, true, m.workers)

		for k := range s.losses {
			m.proposals++
			if s.newLosses[k] < s.losses[k] {
				s.commit(k, cand, s.newLosses[k], s.newPenalties[k])
				m.accepted++
			}
		}
	}
}
