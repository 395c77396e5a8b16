package game

import "testing"

func TestNewStateShape(t *testing.T) {
	s := NewState()
	if s.GameActive {
		t.Fatalf("new state should be inactive")
	}
	if len(s.CurrentMoles) != GridSize {
		t.Fatalf("expected %d mole cells, got %d", GridSize, len(s.CurrentMoles))
	}
	if s.TimeLeft != InitialTimeLeft {
		t.Fatalf("expected timeLeft %d, got %d", InitialTimeLeft, s.TimeLeft)
	}
}

func TestResetClearsScoresAndMoles(t *testing.T) {
	s := NewState()
	s.Player1Score = 50
	s.Player2Score = 70
	s.CurrentMoles[2] = true
	s.CurrentMoles[5] = true
	s.TimeLeft = 12

	s.Reset(1700000000000)

	if !s.GameActive {
		t.Fatalf("reset state should be active")
	}
	if s.GameStartTime != 1700000000000 {
		t.Fatalf("start time not stamped: %d", s.GameStartTime)
	}
	if s.Player1Score != 0 || s.Player2Score != 0 {
		t.Fatalf("scores not zeroed: %d, %d", s.Player1Score, s.Player2Score)
	}
	if s.ActiveCount() != 0 {
		t.Fatalf("moles not cleared")
	}
	if s.TimeLeft != InitialTimeLeft {
		t.Fatalf("countdown not restored: %d", s.TimeLeft)
	}
}

func TestFreezeKeepsScores(t *testing.T) {
	s := NewState()
	s.Reset(1)
	s.Player1Score = 30
	s.Player2Score = 10
	s.CurrentMoles[0] = true
	s.CurrentMoles[8] = true

	s.Freeze()

	if s.GameActive {
		t.Fatalf("frozen state should be inactive")
	}
	if s.ActiveCount() != 0 {
		t.Fatalf("freeze should hide every mole")
	}
	if s.Player1Score != 30 || s.Player2Score != 10 {
		t.Fatalf("freeze should keep the final scores")
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	s := NewState()
	s.Reset(1)

	score := 40
	s.Apply(Update{Player2Score: &score})

	if s.Player2Score != 40 {
		t.Fatalf("player2 score not merged: %d", s.Player2Score)
	}
	if s.Player1Score != 0 || !s.GameActive {
		t.Fatalf("unset fields must stay untouched")
	}

	moles := make([]bool, GridSize)
	moles[3] = true
	s.Apply(Update{CurrentMoles: moles})
	if !s.CurrentMoles[3] || s.ActiveCount() != 1 {
		t.Fatalf("mole array not merged")
	}
	if s.Player2Score != 40 {
		t.Fatalf("mole merge must not disturb scores")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewState()
	s.CurrentMoles[1] = true

	cp := s.Clone()
	cp.CurrentMoles[1] = false
	cp.CurrentMoles[4] = true

	if !s.CurrentMoles[1] || s.CurrentMoles[4] {
		t.Fatalf("clone shares the mole array with the original")
	}
}

func TestEmptySpots(t *testing.T) {
	s := NewState()
	s.CurrentMoles[0] = true
	s.CurrentMoles[8] = true

	spots := s.EmptySpots()
	if len(spots) != GridSize-2 {
		t.Fatalf("expected %d empty spots, got %d", GridSize-2, len(spots))
	}
	for _, idx := range spots {
		if idx == 0 || idx == 8 {
			t.Fatalf("occupied cell %d listed as empty", idx)
		}
	}
}
