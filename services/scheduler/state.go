package scheduler

type State int32

const (
	StateIdle State = iota
	StateCalculatingEarnings
	StateSelectingEligible
	StatePayingOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCalculatingEarnings:
		return "calculating_earnings"
	case StateSelectingEligible:
		return "selecting_eligible"
	case StatePayingOut:
		return "paying_out"
	}
	return "unknown"
}
