/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const boardCount = 9

// Mark is the content of a single cell.
type Mark int8

const (
	Empty Mark = iota
	Player
	Opponent
)

func (m Mark) String() string {
	switch m {
	case Player:
		return "player"
	case Opponent:
		return "opponent"
	default:
		return "empty"
	}
}

func (m Mark) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func markFromWire(v int) (Mark, error) {
	switch v {
	case 0:
		return Empty, nil
	case 1:
		return Player, nil
	case -1:
		return Opponent, nil
	}

	return Empty, fmt.Errorf("invalid cell value %d", v)
}

// Outcome is the resolved state of a local board or of the whole game.
type Outcome int8

const (
	Undecided Outcome = iota
	PlayerWon
	OpponentWon
	Drawn
)

// InProgress is the global outcome of a game that has not ended.
const InProgress = Undecided

func (o Outcome) String() string {
	switch o {
	case PlayerWon:
		return "player"
	case OpponentWon:
		return "opponent"
	case Drawn:
		return "draw"
	default:
		return "undecided"
	}
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

func outcomeFromWire(v int) (Outcome, error) {
	switch v {
	case 0:
		return Undecided, nil
	case 1:
		return PlayerWon, nil
	case -1:
		return OpponentWon, nil
	case 2:
		return Drawn, nil
	}

	return Undecided, fmt.Errorf("invalid outcome value %d", v)
}

// NextBoard is the local board the next move must target.
// The zero value is unconstrained.
type NextBoard struct {
	index int
	set   bool
}

func Unconstrained() NextBoard { return NextBoard{} }

func BoardAt(i int) NextBoard { return NextBoard{index: i, set: true} }

// Index reports the constrained board, if any.
func (n NextBoard) Index() (int, bool) { return n.index, n.set }

func (n NextBoard) Is(i int) bool { return n.set && n.index == i }

func (n *NextBoard) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*n = Unconstrained()

		return nil
	}

	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("next_board: %w", err)
	}
	if !validIndex(i) {
		return fmt.Errorf("next_board out of range: %d", i)
	}

	*n = BoardAt(i)

	return nil
}

// Move addresses a cell by outer board and inner cell, both row-major 0..8.
type Move struct {
	Global int `json:"global_board"`
	Local  int `json:"local_board"`
}

func (m Move) valid() bool {
	return validIndex(m.Global) && validIndex(m.Local)
}

// UnmarshalJSON reads the [global, local] pair form used by possible_moves.
// Requests still encode the object form.
func (m *Move) UnmarshalJSON(data []byte) error {
	var pair []int
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("possible move: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("possible move must be a pair, got %d values", len(pair))
	}

	mv := Move{Global: pair[0], Local: pair[1]}
	if !mv.valid() {
		return fmt.Errorf("possible move out of range: %v", pair)
	}

	*m = mv

	return nil
}

func validIndex(i int) bool {
	return i >= 0 && i < boardCount
}

// GameState holds nine local boards of nine cells each.
type GameState struct {
	Cells [boardCount][boardCount]Mark
}

func (s GameState) At(global, local int) Mark {
	return s.Cells[global][local]
}

func (s *GameState) UnmarshalJSON(data []byte) error {
	var raw json.RawMessage = data

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Board json.RawMessage `json:"board"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil {
			return fmt.Errorf("state: %w", err)
		}
		if wrapper.Board == nil {
			return fmt.Errorf("state: missing board")
		}
		raw = wrapper.Board
	}

	var grid [][][]int
	if err := json.Unmarshal(raw, &grid); err != nil {
		return fmt.Errorf("board: %w", err)
	}
	if len(grid) != boardCount {
		return fmt.Errorf("board must hold %d local boards, got %d", boardCount, len(grid))
	}

	var out GameState
	for g, local := range grid {
		if len(local) != 3 {
			return fmt.Errorf("local board %d must have 3 rows, got %d", g, len(local))
		}
		for r, row := range local {
			if len(row) != 3 {
				return fmt.Errorf("local board %d row %d must have 3 cells, got %d", g, r, len(row))
			}
			for c, v := range row {
				m, err := markFromWire(v)
				if err != nil {
					return fmt.Errorf("local board %d: %w", g, err)
				}
				out.Cells[g][r*3+c] = m
			}
		}
	}

	*s = out

	return nil
}

// Feedback is the legality and outcome metadata sent with every state.
type Feedback struct {
	NextBoard     NextBoard
	SubBoards     [boardCount]Outcome
	GlobalWin     Outcome
	PossibleMoves []Move
}

func (f *Feedback) Allows(m Move) bool {
	for _, p := range f.PossibleMoves {
		if p == m {
			return true
		}
	}

	return false
}

func (f *Feedback) UnmarshalJSON(data []byte) error {
	var wire struct {
		NextBoard      NextBoard `json:"next_board"`
		SubBoardStates []*int    `json:"sub_board_states"`
		GlobalWin      *int      `json:"global_win"`
		PossibleMoves  []Move    `json:"possible_moves"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("feedback: %w", err)
	}

	out := Feedback{
		NextBoard:     wire.NextBoard,
		PossibleMoves: wire.PossibleMoves,
	}

	if len(wire.SubBoardStates) > boardCount {
		return fmt.Errorf("sub_board_states has %d entries", len(wire.SubBoardStates))
	}
	for i, v := range wire.SubBoardStates {
		if v == nil {
			continue
		}
		o, err := outcomeFromWire(*v)
		if err != nil {
			return fmt.Errorf("sub_board_states[%d]: %w", i, err)
		}
		out.SubBoards[i] = o
	}

	if wire.GlobalWin != nil {
		o, err := outcomeFromWire(*wire.GlobalWin)
		if err != nil {
			return fmt.Errorf("global_win: %w", err)
		}
		out.GlobalWin = o
	}

	*f = out

	return nil
}

// Reply is a successful authority response.
type Reply struct {
	State    GameState `json:"state"`
	Feedback Feedback  `json:"feedback"`
}
