package dispute

// verdict is the output of automated evidence analysis.
type verdict struct {
	Decision   Decision
	Confidence float64
	Reasoning  string
}

// analyze computes a recommended decision and a confidence from the verified
// evidence attached to an auto-resolvable dispute. The rules are deterministic
// per dispute type; anything unrecognised falls back to a low-confidence
// recommendation so it lands in manual review.
func analyze(d *Dispute, records []EvidenceInfo) verdict {
	switch d.Kind {
	case "not_received":
		// Verified carrier tracking is near-conclusive proof of shipment.
		for _, rec := range records {
			if rec.Kind == "tracking" && rec.Verified {
				return verdict{
					Decision:   DecisionFavorCreator,
					Confidence: 0.95,
					Reasoning:  "verified carrier tracking confirms the shipment record",
				}
			}
		}
		return verdict{
			Decision:   DecisionFavorCreator,
			Confidence: bestConfidence(records) * 0.6,
			Reasoning:  "no verified tracking evidence",
		}
	case "quantity_mismatch":
		var doc, photo bool
		for _, rec := range records {
			if !rec.Verified {
				continue
			}
			switch rec.Kind {
			case "document":
				doc = true
			case "photo":
				photo = true
			}
		}
		if doc && photo {
			return verdict{
				Decision:   DecisionFavorCreator,
				Confidence: 0.8,
				Reasoning:  "verified manifest and photographic count disagree with the shipment record",
			}
		}
		return verdict{
			Decision:   DecisionSplit,
			Confidence: bestConfidence(records) * 0.5,
			Reasoning:  "incomplete quantity evidence",
		}
	default:
		return verdict{
			Decision:   DecisionSplit,
			Confidence: bestConfidence(records) * 0.5,
			Reasoning:  "no automated rule for dispute type",
		}
	}
}

func bestConfidence(records []EvidenceInfo) float64 {
	best := 0.0
	for _, rec := range records {
		if rec.Verified && rec.Confidence > best {
			best = rec.Confidence
		}
	}
	return best
}
