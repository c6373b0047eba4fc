// Package board implements the pure rules of a 3x3 tic-tac-toe grid:
// move legality, win detection, and draw detection. It has no I/O and
// no concurrency concerns; callers are responsible for serializing
// access to a Board.
package board

import (
	"errors"
	"strings"
)

// Size is the board edge length.
const Size = 3

// Cell is the content of a single board position.
type Cell uint8

// Cell values. CellEmpty doubles as "no winner" in an Outcome.
const (
	CellEmpty Cell = iota
	CellX
	CellO
)

// String renders the cell the way the wire format expects: a single
// space for empty, "X" or "O" otherwise.
func (c Cell) String() string {
	switch c {
	case CellX:
		return "X"
	case CellO:
		return "O"
	default:
		return " "
	}
}

// Opponent returns the opposing mark.
//
// Precondition: c must be CellX or CellO.
func (c Cell) Opponent() Cell {
	if c == CellX {
		return CellO
	}
	return CellX
}

// Board is a 3x3 grid indexed [x][y].
type Board [Size][Size]Cell

// Outcome reports the result of an accepted move. Winner is CellEmpty
// while the game is still ongoing.
type Outcome struct {
	Winner Cell
	Draw   bool
}

// Move rejection reasons.
var (
	ErrOutOfBounds  = errors.New("move out of bounds")
	ErrCellOccupied = errors.New("cell already occupied")
)

// ApplyMove places turn's mark at (x, y) and reports the resulting
// outcome. A rejected move leaves the board unchanged.
//
// Precondition: turn must be CellX or CellO.
// Postcondition: On success the target cell holds turn's mark and the
// returned Outcome matches a full-board scan; on error the board is
// byte-identical to its state before the call.
func ApplyMove(b *Board, turn Cell, x, y int) (Outcome, error) {
	if x < 0 || x >= Size || y < 0 || y >= Size {
		return Outcome{}, ErrOutOfBounds
	}
	if b[x][y] != CellEmpty {
		return Outcome{}, ErrCellOccupied
	}

	b[x][y] = turn

	// Only the lines through (x, y) can have changed.
	if lineCount(b, turn, x, 0, 0, 1) == Size ||
		lineCount(b, turn, 0, y, 1, 0) == Size {
		return Outcome{Winner: turn}, nil
	}
	if x == y && lineCount(b, turn, 0, 0, 1, 1) == Size {
		return Outcome{Winner: turn}, nil
	}
	if x+y == Size-1 && lineCount(b, turn, 0, Size-1, 1, -1) == Size {
		return Outcome{Winner: turn}, nil
	}

	return Outcome{Draw: full(b)}, nil
}

// lineCount counts cells matching mark along the line starting at
// (x, y) and stepping by (dx, dy).
func lineCount(b *Board, mark Cell, x, y, dx, dy int) int {
	n := 0
	for i := 0; i < Size; i++ {
		if b[x+i*dx][y+i*dy] == mark {
			n++
		}
	}
	return n
}

func full(b *Board) bool {
	for x := 0; x < Size; x++ {
		for y := 0; y < Size; y++ {
			if b[x][y] == CellEmpty {
				return false
			}
		}
	}
	return true
}

// Scan evaluates the whole board by brute force: every row, column,
// and both diagonals. It is the reference for ApplyMove's localized
// check and is what tests compare against.
//
// Postcondition: Returns the winner if any line of three exists,
// otherwise Draw if the board is full, otherwise the zero Outcome.
func Scan(b *Board) Outcome {
	for i := 0; i < Size; i++ {
		if b[i][0] != CellEmpty && b[i][0] == b[i][1] && b[i][1] == b[i][2] {
			return Outcome{Winner: b[i][0]}
		}
		if b[0][i] != CellEmpty && b[0][i] == b[1][i] && b[1][i] == b[2][i] {
			return Outcome{Winner: b[0][i]}
		}
	}
	if b[0][0] != CellEmpty && b[0][0] == b[1][1] && b[1][1] == b[2][2] {
		return Outcome{Winner: b[0][0]}
	}
	if b[0][2] != CellEmpty && b[0][2] == b[1][1] && b[1][1] == b[2][0] {
		return Outcome{Winner: b[0][2]}
	}
	return Outcome{Draw: full(b)}
}

// String renders the board in the wire format: cells in a row joined
// by "|", rows joined by "\n", empty cells as a single space.
func (b *Board) String() string {
	var sb strings.Builder
	for x := 0; x < Size; x++ {
		if x != 0 {
			sb.WriteByte('\n')
		}
		for y := 0; y < Size; y++ {
			if y != 0 {
				sb.WriteByte('|')
			}
			sb.WriteString(b[x][y].String())
		}
	}
	return sb.String()
}
