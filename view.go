/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

type CellView struct {
	Global  int  `json:"global"`
	Local   int  `json:"local"`
	Mark    Mark `json:"mark"`
	Enabled bool `json:"enabled"`
}

type BoardView struct {
	Index       int                  `json:"index"`
	Highlighted bool                 `json:"highlighted"`
	Outcome     Outcome              `json:"outcome"`
	Cells       [boardCount]CellView `json:"cells"`
}

// View is everything the browser needs to draw the game. Boards is empty
// when there is no state to show.
type View struct {
	Phase      Phase       `json:"phase"`
	Requesting bool        `json:"requesting"`
	Boards     []BoardView `json:"boards"`
	GameOver   bool        `json:"game_over"`
	Result     string      `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	CanReset   bool        `json:"can_reset"`
}

func resultText(o Outcome) string {
	switch o {
	case PlayerWon:
		return "You Won!"
	case OpponentWon:
		return "AI Won!"
	case Drawn:
		return "Draw!"
	}

	return ""
}

// deriveView maps a committed state to per-board and per-cell attributes.
// It only reads its arguments.
func deriveView(state *GameState, fb *Feedback, phase Phase, errMsg string) View {
	v := View{
		Phase:      phase,
		Requesting: phase == Requesting,
		Boards:     []BoardView{},
		Error:      errMsg,
		CanReset:   phase == Idle,
	}

	if fb != nil && fb.GlobalWin != InProgress {
		v.GameOver = true
		v.Result = resultText(fb.GlobalWin)
	}

	if state == nil {
		return v
	}

	open := fb != nil && fb.GlobalWin == InProgress && phase == Idle

	v.Boards = make([]BoardView, boardCount)
	for g := 0; g < boardCount; g++ {
		b := BoardView{Index: g}
		if fb != nil {
			b.Highlighted = fb.NextBoard.Is(g)
			b.Outcome = fb.SubBoards[g]
		}

		for l := 0; l < boardCount; l++ {
			b.Cells[l] = CellView{
				Global:  g,
				Local:   l,
				Mark:    state.At(g, l),
				Enabled: open && fb.Allows(Move{Global: g, Local: l}),
			}
		}

		v.Boards[g] = b
	}

	return v
}
