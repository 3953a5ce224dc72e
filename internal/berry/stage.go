// Package berry provides the single-berry ripening state machine.
// A berry walks the active stages in order and ends either picked or lost.
package berry

import "fmt"

// Stage is a ripening stage or a terminal outcome.
type Stage uint8

const (
	StageGreen        Stage = iota // Unripe, the stage new arrivals start in
	StageColourBreak1              // First colour change
	StageColourBreak2
	StagePink
	StageCherry
	StageBlue   // Ripe, eligible for harvest
	StagePicked // Terminal: harvested
	StageLost   // Terminal: dropped, eaten, or rotted
)

// NumActive is the number of non-terminal stages.
const NumActive = 6

// NumStages is the total number of stages including terminal outcomes.
const NumStages = 8

// NumObserved is the number of stages counted in field observations
// (every active stage except blue).
const NumObserved = 5

var stageNames = [NumStages]string{
	"green",
	"colour_break_1",
	"colour_break_2",
	"pink",
	"cherry",
	"blue",
	"picked",
	"lost",
}

// DefaultDwell is the expected number of days spent in each active stage.
// Blue has no dwell: a blue berry is immediately eligible for picking.
var DefaultDwell = Thresholds{21, 18, 11, 5, 3, 0}

// ActiveStages lists the non-terminal stages in progression order.
var ActiveStages = [NumActive]Stage{
	StageGreen, StageColourBreak1, StageColourBreak2, StagePink, StageCherry, StageBlue,
}

// ObservedStages lists the stages present in observed datasets, in column order.
var ObservedStages = [NumObserved]Stage{
	StageGreen, StageColourBreak1, StageColourBreak2, StagePink, StageCherry,
}

// AllStages lists every stage, active ones first.
var AllStages = [NumStages]Stage{
	StageGreen, StageColourBreak1, StageColourBreak2, StagePink, StageCherry,
	StageBlue, StagePicked, StageLost,
}

// String returns the canonical stage name.
func (s Stage) String() string {
	if int(s) < len(stageNames) {
		return stageNames[s]
	}
	return fmt.Sprintf("stage(%d)", uint8(s))
}

// IsTerminal reports whether s is picked or lost.
func (s Stage) IsTerminal() bool {
	return s == StagePicked || s == StageLost
}

// IsActive reports whether s is one of the six ripening stages.
func (s Stage) IsActive() bool {
	return s < NumActive
}

// Next returns the stage following s in the progression and whether one exists.
// Blue and terminal stages have no successor.
func (s Stage) Next() (Stage, bool) {
	if s+1 < NumActive {
		return s + 1, true
	}
	return s, false
}

// ParseStage maps a stage name back to its Stage.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// MarshalText implements encoding.TextMarshaler so stages key JSON maps by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Stage) UnmarshalText(text []byte) error {
	st, err := ParseStage(string(text))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
