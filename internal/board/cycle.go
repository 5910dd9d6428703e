package board

// Cuckoo tables mapping the Zobrist signature of a reversible move to the
// move itself. Used to detect that the side to move can force an immediate
// repetition somewhere below the root ("upcoming repetition").
var (
	cuckooKeys  [8192]uint64
	cuckooMoves [8192]Move
)

func cuckooH1(key uint64) int { return int(key & 0x1FFF) }
func cuckooH2(key uint64) int { return int((key >> 16) & 0x1FFF) }

// initCuckoo fills the cuckoo tables with every reversible non-pawn move.
// Called from the zobrist init once the piece keys exist.
func initCuckoo() {
	count := 0
	for c := White; c <= Black; c++ {
		for pt := Knight; pt <= King; pt++ {
			for s1 := A1; s1 <= H8; s1++ {
				for s2 := s1 + 1; s2 <= H8; s2++ {
					if attacksFromAfter(pt, c, s1, Empty)&SquareBB(s2) == 0 {
						continue
					}
					key := zobristPiece[c][pt][s1] ^ zobristPiece[c][pt][s2] ^ zobristSideToMove
					move := NewMove(s1, s2)
					i := cuckooH1(key)
					for {
						cuckooKeys[i], key = key, cuckooKeys[i]
						cuckooMoves[i], move = move, cuckooMoves[i]
						if key == 0 {
							break
						}
						if i == cuckooH1(key) {
							i = cuckooH2(key)
						} else {
							i = cuckooH1(key)
						}
					}
					count++
				}
			}
		}
	}
	if count != 3668 {
		panic("cuckoo table construction is broken")
	}
}

// HasGameCycle reports whether the side to move has a drawing move by
// repetition available at or below the current node. ply is the distance
// from the search root.
func (p *Position) HasGameCycle(ply int) bool {
	end := p.HalfMoveClock
	if p.pliesFromNull < end {
		end = p.pliesFromNull
	}
	if end < 3 {
		return false
	}

	n := len(p.history)
	originalKey := p.Hash

	for i := 3; i <= end; i += 2 {
		if n-i < 0 {
			break
		}
		moveKey := originalKey ^ p.history[n-i]

		j := cuckooH1(moveKey)
		if cuckooKeys[j] != moveKey {
			j = cuckooH2(moveKey)
			if cuckooKeys[j] != moveKey {
				continue
			}
		}

		move := cuckooMoves[j]
		s1, s2 := move.From(), move.To()
		if Between(s1, s2)&p.AllOccupied != 0 {
			continue
		}

		// Repetitions found before the root would need to occur twice to
		// draw; only in-tree cycles are reported.
		if ply > i {
			return true
		}
	}

	return false
}
