package workflow

// Outcome is the closed set of token-branch analysis results. The three
// variants form a strict total order used by Merge:
// TokenFound > ReleaseOnly > NoToken.
type Outcome interface {
	priority() int
	isOutcome()
}

// TokenFound means an analysis located a concrete token to snipe.
type TokenFound struct {
	ChainID   int
	ChainName string
	Address   string
}

func (TokenFound) priority() int { return 2 }
func (TokenFound) isOutcome()    {}

// ReleaseOnly means a token release was announced but no address is
// available yet. No action is emitted.
type ReleaseOnly struct{}

func (ReleaseOnly) priority() int { return 1 }
func (ReleaseOnly) isOutcome()    {}

// NoToken means the analysis found nothing actionable.
type NoToken struct{}

func (NoToken) priority() int { return 0 }
func (NoToken) isOutcome()    {}

// SourcedOutcome pairs an outcome with the analysis source that produced
// it ("text", "image", "link").
type SourcedOutcome struct {
	Source  string
	Outcome Outcome
}

// Merge reduces outcomes to the single highest-priority one. Only a
// strictly higher priority replaces the running best, so ties keep the
// earliest source in evaluation order. An empty input merges to NoToken.
func Merge(outcomes []SourcedOutcome) SourcedOutcome {
	var best SourcedOutcome
	for _, so := range outcomes {
		if so.Outcome == nil {
			continue
		}
		if best.Outcome == nil || so.Outcome.priority() > best.Outcome.priority() {
			best = so
		}
	}
	if best.Outcome == nil {
		best.Outcome = NoToken{}
	}
	return best
}
