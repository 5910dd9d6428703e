// Package book reads Polyglot opening books. Entries are grouped by
// position key and kept sorted best-weight-first, so probes never sort.
package book

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/samber/lo"
	"lukechampine.com/frand"

	"github.com/corvidchess/corvid/internal/board"
)

// polyglotEntrySize is the fixed on-disk record size: 8-byte key, 2-byte
// move, 2-byte weight, 4-byte learn data (ignored).
const polyglotEntrySize = 16

// BookEntry represents a single book entry.
type BookEntry struct {
	Move   board.Move
	Weight uint16
}

// Book represents an opening book.
type Book struct {
	entries map[uint64][]BookEntry
}

// New creates an empty book.
func New() *Book {
	return &Book{
		entries: make(map[uint64][]BookEntry),
	}
}

// LoadPolyglot loads a Polyglot format opening book from a file.
func LoadPolyglot(filename string) (*Book, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return LoadPolyglotReader(file)
}

// LoadPolyglotReader loads a Polyglot format book from a reader.
func LoadPolyglotReader(r io.Reader) (*Book, error) {
	b := New()

	var record [polyglotEntrySize]byte
	for {
		if _, err := io.ReadFull(r, record[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		key := binary.BigEndian.Uint64(record[0:8])
		move := decodePolyglotMove(binary.BigEndian.Uint16(record[8:10]))
		weight := binary.BigEndian.Uint16(record[10:12])

		if move != board.NoMove {
			b.entries[key] = append(b.entries[key], BookEntry{Move: move, Weight: weight})
		}
	}

	// Sort each bucket once, best weight first; Probe and ProbeAll rely
	// on this order.
	for key := range b.entries {
		es := b.entries[key]
		sort.SliceStable(es, func(i, j int) bool { return es[i].Weight > es[j].Weight })
	}

	return b, nil
}

// polyglotCastles maps the king-captures-rook castling encoding used by
// the format to the engine's king-destination convention.
var polyglotCastles = map[[2]board.Square][2]board.Square{
	{board.E1, board.H1}: {board.E1, board.G1},
	{board.E1, board.A1}: {board.E1, board.C1},
	{board.E8, board.H8}: {board.E8, board.G8},
	{board.E8, board.A8}: {board.E8, board.C8},
}

// decodePolyglotMove converts the format's move encoding. Bits, low to
// high: to file, to rank, from file, from rank, promotion piece
// (0=none, 1=knight … 4=queen).
func decodePolyglotMove(data uint16) board.Move {
	from := board.NewSquare(int(data>>6&7), int(data>>9&7))
	to := board.NewSquare(int(data&7), int(data>>3&7))

	if fixed, ok := polyglotCastles[[2]board.Square{from, to}]; ok {
		from, to = fixed[0], fixed[1]
	}

	if promo := data >> 12 & 7; promo > 0 {
		if promo > 4 {
			return board.NoMove
		}
		return board.NewPromotion(from, to, board.Knight+board.PieceType(promo-1))
	}

	return board.NewMove(from, to)
}

// Probe returns a book move for the position, chosen by weighted random
// selection among the stored replies, or false when the position is
// unknown or the selected entry is not legal in it. Only the selected entry
// is checked; other entries are not tried.
func (b *Book) Probe(pos *board.Position) (board.Move, bool) {
	if b == nil {
		return board.NoMove, false
	}

	entries := b.entries[pos.PolyglotHash()]
	if len(entries) == 0 {
		return board.NoMove, false
	}

	pick := entries[0]
	if total := lo.SumBy(entries, func(e BookEntry) uint32 { return uint32(e.Weight) }); total > 0 {
		roll := uint32(frand.Intn(int(total)))
		for _, e := range entries {
			if roll < uint32(e.Weight) {
				pick = e
				break
			}
			roll -= uint32(e.Weight)
		}
	}

	if m := b.matchLegal(pos, pick.Move); m != board.NoMove {
		return m, true
	}
	return board.NoMove, false
}

// ProbeAll returns every stored reply for the position, best weight first.
func (b *Book) ProbeAll(pos *board.Position) []BookEntry {
	if b == nil {
		return nil
	}
	entries := b.entries[pos.PolyglotHash()]
	if len(entries) == 0 {
		return nil
	}
	return append([]BookEntry(nil), entries...)
}

// matchLegal resolves a decoded book move against the position's legal
// moves, picking up the flags (castling, en passant) the format omits.
func (b *Book) matchLegal(pos *board.Position, move board.Move) board.Move {
	legal := pos.GenerateLegalMoves()
	for i := 0; i < legal.Len(); i++ {
		lm := legal.Get(i)
		if lm.From() != move.From() || lm.To() != move.To() {
			continue
		}
		if lm.IsPromotion() != move.IsPromotion() {
			continue
		}
		if lm.IsPromotion() && lm.Promotion() != move.Promotion() {
			continue
		}
		return lm
	}
	return board.NoMove
}

// Size returns the number of unique positions in the book.
func (b *Book) Size() int {
	if b == nil {
		return 0
	}
	return len(b.entries)
}
