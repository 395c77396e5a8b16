package game

// GridSize is the number of mole cells in the fixed 3x3 layout.
const GridSize = 9

// InitialTimeLeft is the advisory countdown, in seconds, at the start of a
// match. The server stamps it but never counts it down; the host's local
// timer drives the end of the game.
const InitialTimeLeft = 180

// State is the authoritative game snapshot mirrored by both players. Field
// names match the wire format.
type State struct {
	GameActive    bool   `json:"gameActive"`
	GameStartTime int64  `json:"gameStartTime,omitempty"` // unix millis, zero until first start
	Player1Score  int    `json:"player1Score"`
	Player2Score  int    `json:"player2Score"`
	CurrentMoles  []bool `json:"currentMoles"`
	TimeLeft      int    `json:"timeLeft"`
}

// NewState returns the inactive pre-game state.
func NewState() State {
	return State{
		CurrentMoles: make([]bool, GridSize),
		TimeLeft:     InitialTimeLeft,
	}
}

// Reset puts the state into the just-started shape: active, zero scores,
// every mole hidden, full countdown.
func (s *State) Reset(startedAt int64) {
	s.GameActive = true
	s.GameStartTime = startedAt
	s.Player1Score = 0
	s.Player2Score = 0
	s.CurrentMoles = make([]bool, GridSize)
	s.TimeLeft = InitialTimeLeft
}

// Freeze ends the match: inactive with every mole hidden. Scores stay as the
// final result.
func (s *State) Freeze() {
	s.GameActive = false
	s.CurrentMoles = make([]bool, GridSize)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s State) Clone() State {
	cp := s
	cp.CurrentMoles = append([]bool(nil), s.CurrentMoles...)
	return cp
}

// EmptySpots returns the indices without a visible mole.
func (s State) EmptySpots() []int {
	spots := make([]int, 0, GridSize)
	for i, up := range s.CurrentMoles {
		if !up {
			spots = append(spots, i)
		}
	}
	return spots
}

// ActiveCount returns the number of currently visible moles.
func (s State) ActiveCount() int {
	n := 0
	for _, up := range s.CurrentMoles {
		if up {
			n++
		}
	}
	return n
}

// Update is a partial state carried by the generic update-game-state channel.
// Nil fields are left untouched by Apply.
type Update struct {
	GameActive    *bool  `json:"gameActive,omitempty"`
	GameStartTime *int64 `json:"gameStartTime,omitempty"`
	Player1Score  *int   `json:"player1Score,omitempty"`
	Player2Score  *int   `json:"player2Score,omitempty"`
	CurrentMoles  []bool `json:"currentMoles,omitempty"`
	TimeLeft      *int   `json:"timeLeft,omitempty"`
}

// Apply shallow-merges the set fields of u into s.
func (s *State) Apply(u Update) {
	if u.GameActive != nil {
		s.GameActive = *u.GameActive
	}
	if u.GameStartTime != nil {
		s.GameStartTime = *u.GameStartTime
	}
	if u.Player1Score != nil {
		s.Player1Score = *u.Player1Score
	}
	if u.Player2Score != nil {
		s.Player2Score = *u.Player2Score
	}
	if u.CurrentMoles != nil {
		moles := make([]bool, GridSize)
		copy(moles, u.CurrentMoles)
		s.CurrentMoles = moles
	}
	if u.TimeLeft != nil {
		s.TimeLeft = *u.TimeLeft
	}
}
