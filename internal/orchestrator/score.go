package orchestrator

import "github.com/breachline/breachline/internal/model"

// Score computes the defense score for a set of terminal results.
//
// Blocked techniques are worth full credit, detected ones half, successful
// (undetected) ones none. Failed results are technical errors and drop out of
// the denominator entirely. With no scoreable results the score is 0.
func Score(results []model.Result) model.ScoreBreakdown {
	var b model.ScoreBreakdown
	for _, r := range results {
		switch r.Status {
		case model.ResultBlocked:
			b.Blocked++
		case model.ResultDetected:
			b.Detected++
		case model.ResultSuccess:
			b.Success++
		}
	}
	b.Total = b.Blocked + b.Detected + b.Success
	if b.Total == 0 {
		return b
	}
	b.Overall = float64(b.Blocked*100+b.Detected*50) / float64(b.Total*100) * 100
	return b
}

// ScoreByTactic groups results by the tactics of their techniques and scores
// each group with the same formula. A technique listing several tactics
// counts toward each of them; results whose technique is missing from the
// catalog map contribute to no tactic.
func ScoreByTactic(results []model.Result, techniques map[string]model.Technique) map[string]float64 {
	grouped := make(map[string][]model.Result)
	for _, r := range results {
		tech, ok := techniques[r.TechniqueID]
		if !ok {
			continue
		}
		for _, tactic := range tech.Tactics {
			grouped[tactic] = append(grouped[tactic], r)
		}
	}
	if len(grouped) == 0 {
		return nil
	}
	scores := make(map[string]float64, len(grouped))
	for tactic, rs := range grouped {
		scores[tactic] = Score(rs).Overall
	}
	return scores
}
