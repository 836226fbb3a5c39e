// Package score holds the pure attainment arithmetic: learning-outcome and
// program-outcome scores plus weighted course averages. Everything here is
// deterministic and side-effect free; callers fetch the facts, this package
// only does the math.
package score

// Evidence is one assessment's contribution toward a learning outcome (or
// toward the course average, where Weight is the assessment's course weight).
// Graded=false entries are skipped entirely rather than counted as zero.
type Evidence struct {
	Weight     float64
	Graded     bool
	RawScore   float64
	TotalScore float64
}

// Contribution is one learning outcome's weighted contribution to a
// program outcome.
type Contribution struct {
	Weight float64
	LO     Score
}

// LO computes a learning-outcome score from assessment evidence.
// The denominator renormalizes over the graded subset: a pending assessment
// does not depress the score, and with no graded evidence the result is None.
func LO(evidence []Evidence) Score {
	return weightedRatio(evidence)
}

// CourseAverage computes the weighted course average from assessment
// evidence, with the same graded-subset renormalization as LO.
func CourseAverage(evidence []Evidence) Score {
	return weightedRatio(evidence)
}

func weightedRatio(evidence []Evidence) Score {
	var num, den float64
	for _, ev := range evidence {
		if !ev.Graded || ev.TotalScore <= 0 {
			continue
		}
		num += (ev.RawScore / ev.TotalScore) * ev.Weight
		den += ev.Weight
	}
	if den <= 0 {
		return None()
	}
	return Some(num / den)
}

// PO computes a program-outcome score from learning-outcome contributions
// across every course feeding the outcome. Contributions whose LO score is
// missing are excluded; if nothing contributes the result is None.
func PO(contribs []Contribution) Score {
	var num, den float64
	for _, c := range contribs {
		if !c.LO.Valid {
			continue
		}
		num += c.LO.Value * c.Weight
		den += c.Weight
	}
	if den <= 0 {
		return None()
	}
	return Some(num / den)
}
