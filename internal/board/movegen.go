package board

// GenerateLegalMoves generates all legal moves for the position.
func (p *Position) GenerateLegalMoves() *MoveList {
	ml := NewMoveList()
	p.generateAllMoves(ml)
	return p.filterLegalMoves(ml)
}

// GeneratePseudoLegalMoves generates all pseudo-legal moves (may leave king in check).
func (p *Position) GeneratePseudoLegalMoves() *MoveList {
	ml := NewMoveList()
	p.generateAllMoves(ml)
	return ml
}

// GenerateCaptures generates all legal captures, promotions and
// en passant captures. Used by the tactical stages of the move picker.
func (p *Position) GenerateCaptures() *MoveList {
	ml := NewMoveList()
	p.generateCaptures(ml)
	return p.filterLegalMoves(ml)
}

// generateAllMoves generates all pseudo-legal moves.
func (p *Position) generateAllMoves(ml *MoveList) {
	us := p.SideToMove
	them := us.Other()
	occupied := p.AllOccupied
	enemies := p.Occupied[them]

	p.generatePawnMoves(ml, us, enemies, occupied)

	knights := p.Pieces[us][Knight]
	for knights != 0 {
		from := knights.PopLSB()
		attacks := KnightAttacks(from) & ^p.Occupied[us]
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	bishops := p.Pieces[us][Bishop]
	for bishops != 0 {
		from := bishops.PopLSB()
		attacks := BishopAttacks(from, occupied) & ^p.Occupied[us]
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	rooks := p.Pieces[us][Rook]
	for rooks != 0 {
		from := rooks.PopLSB()
		attacks := RookAttacks(from, occupied) & ^p.Occupied[us]
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	queens := p.Pieces[us][Queen]
	for queens != 0 {
		from := queens.PopLSB()
		attacks := QueenAttacks(from, occupied) & ^p.Occupied[us]
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	p.generateKingMoves(ml, us)
	p.generateCastlingMoves(ml, us)
}

// generatePawnMoves generates all pawn moves.
func (p *Position) generatePawnMoves(ml *MoveList, us Color, enemies, occupied Bitboard) {
	pawns := p.Pieces[us][Pawn]
	empty := ^occupied

	var push1, push2, attackL, attackR Bitboard
	var promotionRank Bitboard
	var pushDir int

	if us == White {
		push1 = pawns.North() & empty
		push2 = (push1 & Rank3).North() & empty
		attackL = pawns.NorthWest() & enemies
		attackR = pawns.NorthEast() & enemies
		promotionRank = Rank8
		pushDir = 8
	} else {
		push1 = pawns.South() & empty
		push2 = (push1 & Rank6).South() & empty
		attackL = pawns.SouthWest() & enemies
		attackR = pawns.SouthEast() & enemies
		promotionRank = Rank1
		pushDir = -8
	}

	nonPromo := push1 & ^promotionRank
	for nonPromo != 0 {
		to := nonPromo.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir), to))
	}

	for push2 != 0 {
		to := push2.PopLSB()
		ml.Add(NewMove(Square(int(to)-2*pushDir), to))
	}

	nonPromoL := attackL & ^promotionRank
	for nonPromoL != 0 {
		to := nonPromoL.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir+1), to))
	}

	nonPromoR := attackR & ^promotionRank
	for nonPromoR != 0 {
		to := nonPromoR.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir-1), to))
	}

	promoPush := push1 & promotionRank
	for promoPush != 0 {
		to := promoPush.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir), to)
	}

	promoL := attackL & promotionRank
	for promoL != 0 {
		to := promoL.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir+1), to)
	}

	promoR := attackR & promotionRank
	for promoR != 0 {
		to := promoR.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir-1), to)
	}

	if p.EnPassant != NoSquare {
		epBB := SquareBB(p.EnPassant)
		var epAttackers Bitboard
		if us == White {
			epAttackers = (epBB.SouthWest() | epBB.SouthEast()) & pawns
		} else {
			epAttackers = (epBB.NorthWest() | epBB.NorthEast()) & pawns
		}
		for epAttackers != 0 {
			ml.Add(NewEnPassant(epAttackers.PopLSB(), p.EnPassant))
		}
	}
}

// addPromotions adds all four promotion moves.
func addPromotions(ml *MoveList, from, to Square) {
	ml.Add(NewPromotion(from, to, Queen))
	ml.Add(NewPromotion(from, to, Rook))
	ml.Add(NewPromotion(from, to, Bishop))
	ml.Add(NewPromotion(from, to, Knight))
}

// generateKingMoves generates king moves (non-castling).
func (p *Position) generateKingMoves(ml *MoveList, us Color) {
	from := p.KingSquare[us]
	attacks := KingAttacks(from) & ^p.Occupied[us]
	for attacks != 0 {
		ml.Add(NewMove(from, attacks.PopLSB()))
	}
}

// generateCastlingMoves generates castling moves.
func (p *Position) generateCastlingMoves(ml *MoveList, us Color) {
	them := us.Other()

	if us == White {
		if p.CastlingRights&WhiteKingSideCastle != 0 &&
			p.AllOccupied&((1<<F1)|(1<<G1)) == 0 &&
			!p.IsSquareAttacked(E1, them) && !p.IsSquareAttacked(F1, them) && !p.IsSquareAttacked(G1, them) {
			ml.Add(NewCastling(E1, G1))
		}
		if p.CastlingRights&WhiteQueenSideCastle != 0 &&
			p.AllOccupied&((1<<B1)|(1<<C1)|(1<<D1)) == 0 &&
			!p.IsSquareAttacked(E1, them) && !p.IsSquareAttacked(D1, them) && !p.IsSquareAttacked(C1, them) {
			ml.Add(NewCastling(E1, C1))
		}
	} else {
		if p.CastlingRights&BlackKingSideCastle != 0 &&
			p.AllOccupied&((1<<F8)|(1<<G8)) == 0 &&
			!p.IsSquareAttacked(E8, them) && !p.IsSquareAttacked(F8, them) && !p.IsSquareAttacked(G8, them) {
			ml.Add(NewCastling(E8, G8))
		}
		if p.CastlingRights&BlackQueenSideCastle != 0 &&
			p.AllOccupied&((1<<B8)|(1<<C8)|(1<<D8)) == 0 &&
			!p.IsSquareAttacked(E8, them) && !p.IsSquareAttacked(D8, them) && !p.IsSquareAttacked(C8, them) {
			ml.Add(NewCastling(E8, C8))
		}
	}
}

// generateCaptures generates pseudo-legal captures and promotions.
func (p *Position) generateCaptures(ml *MoveList) {
	us := p.SideToMove
	them := us.Other()
	enemies := p.Occupied[them]
	occupied := p.AllOccupied

	pawns := p.Pieces[us][Pawn]
	var attackL, attackR Bitboard
	var promotionRank Bitboard
	var pushDir int

	if us == White {
		attackL = pawns.NorthWest() & enemies
		attackR = pawns.NorthEast() & enemies
		promotionRank = Rank8
		pushDir = 8
	} else {
		attackL = pawns.SouthWest() & enemies
		attackR = pawns.SouthEast() & enemies
		promotionRank = Rank1
		pushDir = -8
	}

	nonPromoL := attackL & ^promotionRank
	for nonPromoL != 0 {
		to := nonPromoL.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir+1), to))
	}

	nonPromoR := attackR & ^promotionRank
	for nonPromoR != 0 {
		to := nonPromoR.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir-1), to))
	}

	promoL := attackL & promotionRank
	for promoL != 0 {
		to := promoL.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir+1), to)
	}

	promoR := attackR & promotionRank
	for promoR != 0 {
		to := promoR.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir-1), to)
	}

	// Quiet push promotions belong with the tactical moves.
	empty := ^occupied
	var push1 Bitboard
	if us == White {
		push1 = pawns.North() & empty & Rank8
	} else {
		push1 = pawns.South() & empty & Rank1
	}
	for push1 != 0 {
		to := push1.PopLSB()
		addPromotions(ml, Square(int(to)-pushDir), to)
	}

	if p.EnPassant != NoSquare {
		epBB := SquareBB(p.EnPassant)
		var epAttackers Bitboard
		if us == White {
			epAttackers = (epBB.SouthWest() | epBB.SouthEast()) & pawns
		} else {
			epAttackers = (epBB.NorthWest() | epBB.NorthEast()) & pawns
		}
		for epAttackers != 0 {
			ml.Add(NewEnPassant(epAttackers.PopLSB(), p.EnPassant))
		}
	}

	knights := p.Pieces[us][Knight]
	for knights != 0 {
		from := knights.PopLSB()
		attacks := KnightAttacks(from) & enemies
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	bishops := p.Pieces[us][Bishop]
	for bishops != 0 {
		from := bishops.PopLSB()
		attacks := BishopAttacks(from, occupied) & enemies
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	rooks := p.Pieces[us][Rook]
	for rooks != 0 {
		from := rooks.PopLSB()
		attacks := RookAttacks(from, occupied) & enemies
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	queens := p.Pieces[us][Queen]
	for queens != 0 {
		from := queens.PopLSB()
		attacks := QueenAttacks(from, occupied) & enemies
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	from := p.KingSquare[us]
	attacks := KingAttacks(from) & enemies
	for attacks != 0 {
		ml.Add(NewMove(from, attacks.PopLSB()))
	}
}

// filterLegalMoves filters out illegal moves. Non-pinned, non-king,
// non-en-passant moves are automatically legal when not in check.
func (p *Position) filterLegalMoves(ml *MoveList) *MoveList {
	result := NewMoveList()
	pinned := p.ComputePinned()
	ksq := p.KingSquare[p.SideToMove]
	inCheck := p.Checkers != 0

	for i := 0; i < ml.Len(); i++ {
		m := ml.Get(i)
		from := m.From()

		if !inCheck && from != ksq && !m.IsEnPassant() && pinned&SquareBB(from) == 0 {
			result.Add(m)
			continue
		}
		if p.IsLegalFast(m, pinned) {
			result.Add(m)
		}
	}

	return result
}

// IsLegalFast reports whether the move is legal given the precomputed pin set.
// Non-pinned, non-king, non-en-passant moves need no make/unmake.
func (p *Position) IsLegalFast(m Move, pinned Bitboard) bool {
	from := m.From()
	to := m.To()
	us := p.SideToMove
	them := us.Other()
	ksq := p.KingSquare[us]
	checkers := p.Checkers

	if from == ksq {
		if m.IsCastling() {
			// Castling through check was rejected at generation time.
			return checkers == 0
		}
		occ := p.AllOccupied &^ SquareBB(from)
		return p.AttackersByColor(to, them, occ) == 0
	}

	if checkers != 0 {
		if checkers.PopCount() > 1 {
			return false
		}

		checker := checkers.LSB()
		validTargets := SquareBB(checker) | Between(checker, ksq)

		if m.IsEnPassant() {
			var capturedSq Square
			if us == White {
				capturedSq = to - 8
			} else {
				capturedSq = to + 8
			}
			if capturedSq == checker {
				return p.isLegalEnPassant(m)
			}
			return false
		}

		if validTargets&SquareBB(to) == 0 {
			return false
		}
		if pinned&SquareBB(from) != 0 && !Aligned(from, to, ksq) {
			return false
		}
		return true
	}

	if m.IsEnPassant() {
		// Removing two pawns from one rank can expose the king sideways.
		return p.isLegalEnPassant(m)
	}

	if pinned&SquareBB(from) == 0 {
		return true
	}

	return Aligned(from, to, ksq)
}

// isLegalEnPassant validates an en passant capture by make/unmake.
func (p *Position) isLegalEnPassant(m Move) bool {
	us := p.SideToMove
	them := us.Other()
	ksq := p.KingSquare[us]

	undo := p.MakeMove(m)
	if !undo.Valid {
		return false
	}
	attacked := p.IsSquareAttacked(ksq, them)
	p.UnmakeMove(m, undo)

	return !attacked
}

// IsLegal reports whether a move is legal, recomputing the pin set.
func (p *Position) IsLegal(m Move) bool {
	return p.IsLegalFast(m, p.ComputePinned())
}

// GenerateQuietChecks generates legal non-capture moves that give check.
func (p *Position) GenerateQuietChecks() *MoveList {
	ml := NewMoveList()
	p.generateQuietChecks(ml)
	return p.filterLegalMoves(ml)
}

// generateQuietChecks generates pseudo-legal non-capture checking moves.
func (p *Position) generateQuietChecks(ml *MoveList) {
	us := p.SideToMove
	them := us.Other()
	enemyKing := p.KingSquare[them]
	occupied := p.AllOccupied
	empty := ^occupied

	knightCheckSquares := KnightAttacks(enemyKing) & empty
	knights := p.Pieces[us][Knight]
	for knights != 0 {
		from := knights.PopLSB()
		attacks := KnightAttacks(from) & knightCheckSquares
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	bishopCheckSquares := BishopAttacks(enemyKing, occupied) & empty
	bishops := p.Pieces[us][Bishop]
	for bishops != 0 {
		from := bishops.PopLSB()
		attacks := BishopAttacks(from, occupied) & bishopCheckSquares
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	rookCheckSquares := RookAttacks(enemyKing, occupied) & empty
	rooks := p.Pieces[us][Rook]
	for rooks != 0 {
		from := rooks.PopLSB()
		attacks := RookAttacks(from, occupied) & rookCheckSquares
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	queenCheckSquares := bishopCheckSquares | rookCheckSquares
	queens := p.Pieces[us][Queen]
	for queens != 0 {
		from := queens.PopLSB()
		attacks := QueenAttacks(from, occupied) & queenCheckSquares
		for attacks != 0 {
			ml.Add(NewMove(from, attacks.PopLSB()))
		}
	}

	// Pawn pushes that check directly.
	pawns := p.Pieces[us][Pawn]
	var push1, push2 Bitboard
	var pushDir int
	if us == White {
		push1 = pawns.North() & empty &^ Rank8
		push2 = (push1 & Rank3).North() & empty
		pushDir = 8
	} else {
		push1 = pawns.South() & empty &^ Rank1
		push2 = (push1 & Rank6).South() & empty
		pushDir = -8
	}
	checkFrom := PawnAttacks(enemyKing, them)
	p1 := push1 & checkFrom
	for p1 != 0 {
		to := p1.PopLSB()
		ml.Add(NewMove(Square(int(to)-pushDir), to))
	}
	p2 := push2 & checkFrom
	for p2 != 0 {
		to := p2.PopLSB()
		ml.Add(NewMove(Square(int(to)-2*pushDir), to))
	}
}

// MakeMove applies a move to the position and returns undo information.
// The caller is expected to pass a legal move; an inconsistent move leaves
// the position untouched and returns an invalid UndoInfo.
func (p *Position) MakeMove(m Move) UndoInfo {
	undo := UndoInfo{
		CapturedPiece:  NoPiece,
		PrevCaptured:   p.captured,
		CastlingRights: p.CastlingRights,
		EnPassant:      p.EnPassant,
		HalfMoveClock:  p.HalfMoveClock,
		PliesFromNull:  p.pliesFromNull,
		Hash:           p.Hash,
		PawnKey:        p.PawnKey,
		Checkers:       p.Checkers,
		KingSquare:     p.KingSquare,
		Pieces:         p.Pieces,
		Occupied:       p.Occupied,
		AllOccupied:    p.AllOccupied,
	}

	us := p.SideToMove
	them := us.Other()
	from := m.From()
	to := m.To()
	piece := p.PieceAt(from)

	if piece == NoPiece || piece.Color() != us {
		return undo
	}

	undo.Valid = true
	pt := piece.Type()

	p.history = append(p.history, p.Hash)

	p.Hash ^= zobristSideToMove
	p.Hash ^= zobristCastling[p.CastlingRights]

	if p.EnPassant != NoSquare {
		p.Hash ^= zobristEnPassant[p.EnPassant.File()]
	}
	p.EnPassant = NoSquare

	if m.IsEnPassant() {
		var capturedSq Square
		if us == White {
			capturedSq = to - 8
		} else {
			capturedSq = to + 8
		}
		undo.CapturedPiece = p.removePiece(capturedSq)
		p.Hash ^= zobristPiece[them][Pawn][capturedSq]
		p.PawnKey ^= zobristPiece[them][Pawn][capturedSq]
	} else if captured := p.PieceAt(to); captured != NoPiece {
		undo.CapturedPiece = captured
		p.removePiece(to)
		p.Hash ^= zobristPiece[them][captured.Type()][to]
		if captured.Type() == Pawn {
			p.PawnKey ^= zobristPiece[them][Pawn][to]
		}
	}

	p.movePiece(from, to)
	p.Hash ^= zobristPiece[us][pt][from]
	p.Hash ^= zobristPiece[us][pt][to]

	if pt == Pawn {
		p.PawnKey ^= zobristPiece[us][Pawn][from]
		p.PawnKey ^= zobristPiece[us][Pawn][to]
	}

	if m.IsPromotion() {
		promoPt := m.Promotion()
		p.Pieces[us][Pawn] &^= SquareBB(to)
		p.Pieces[us][promoPt] |= SquareBB(to)
		p.Hash ^= zobristPiece[us][Pawn][to]
		p.Hash ^= zobristPiece[us][promoPt][to]
		p.PawnKey ^= zobristPiece[us][Pawn][to]
	}

	if m.IsCastling() {
		var rookFrom, rookTo Square
		if to > from {
			rookFrom = NewSquare(7, from.Rank())
			rookTo = NewSquare(5, from.Rank())
		} else {
			rookFrom = NewSquare(0, from.Rank())
			rookTo = NewSquare(3, from.Rank())
		}
		p.movePiece(rookFrom, rookTo)
		p.Hash ^= zobristPiece[us][Rook][rookFrom]
		p.Hash ^= zobristPiece[us][Rook][rookTo]
	}

	if pt == King {
		if us == White {
			p.CastlingRights &^= WhiteKingSideCastle | WhiteQueenSideCastle
		} else {
			p.CastlingRights &^= BlackKingSideCastle | BlackQueenSideCastle
		}
	}

	if from == A1 || to == A1 {
		p.CastlingRights &^= WhiteQueenSideCastle
	}
	if from == H1 || to == H1 {
		p.CastlingRights &^= WhiteKingSideCastle
	}
	if from == A8 || to == A8 {
		p.CastlingRights &^= BlackQueenSideCastle
	}
	if from == H8 || to == H8 {
		p.CastlingRights &^= BlackKingSideCastle
	}

	p.Hash ^= zobristCastling[p.CastlingRights]

	if pt == Pawn && abs(int(to)-int(from)) == 16 {
		epSquare := Square((int(from) + int(to)) / 2)
		p.EnPassant = epSquare
		p.Hash ^= zobristEnPassant[epSquare.File()]
	}

	if pt == Pawn || undo.CapturedPiece != NoPiece {
		p.HalfMoveClock = 0
	} else {
		p.HalfMoveClock++
	}
	p.pliesFromNull++

	if us == Black {
		p.FullMoveNumber++
	}

	p.captured = undo.CapturedPiece
	p.SideToMove = them
	p.UpdateCheckers()

	return undo
}

// UnmakeMove undoes a move using the stored undo information.
func (p *Position) UnmakeMove(m Move, undo UndoInfo) {
	us := p.SideToMove.Other()

	p.CastlingRights = undo.CastlingRights
	p.EnPassant = undo.EnPassant
	p.HalfMoveClock = undo.HalfMoveClock
	p.pliesFromNull = undo.PliesFromNull
	p.Hash = undo.Hash
	p.PawnKey = undo.PawnKey
	p.Checkers = undo.Checkers
	p.KingSquare = undo.KingSquare
	p.Pieces = undo.Pieces
	p.Occupied = undo.Occupied
	p.AllOccupied = undo.AllOccupied
	p.captured = undo.PrevCaptured
	p.SideToMove = us

	if undo.Valid {
		p.history = p.history[:len(p.history)-1]
	}

	if us == Black {
		p.FullMoveNumber--
	}
}

// HasLegalMoves reports whether the side to move has any legal move.
func (p *Position) HasLegalMoves() bool {
	ml := p.GeneratePseudoLegalMoves()
	pinned := p.ComputePinned()
	for i := 0; i < ml.Len(); i++ {
		if p.IsLegalFast(ml.Get(i), pinned) {
			return true
		}
	}
	return false
}

// IsCheckmate reports whether the position is checkmate.
func (p *Position) IsCheckmate() bool {
	return p.InCheck() && !p.HasLegalMoves()
}

// IsStalemate reports whether the position is stalemate.
func (p *Position) IsStalemate() bool {
	return !p.InCheck() && !p.HasLegalMoves()
}

// IsInsufficientMaterial reports whether neither side can possibly mate.
func (p *Position) IsInsufficientMaterial() bool {
	if p.Pieces[White][Pawn]|p.Pieces[Black][Pawn] != 0 ||
		p.Pieces[White][Rook]|p.Pieces[Black][Rook] != 0 ||
		p.Pieces[White][Queen]|p.Pieces[Black][Queen] != 0 {
		return false
	}

	wMinor := p.Pieces[White][Knight].PopCount() + p.Pieces[White][Bishop].PopCount()
	bMinor := p.Pieces[Black][Knight].PopCount() + p.Pieces[Black][Bishop].PopCount()

	return (wMinor <= 1 && bMinor == 0) || (bMinor <= 1 && wMinor == 0)
}
