package tablebase

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/corvidchess/corvid/internal/board"
)

// LichessProber queries the Lichess tablebase API. It needs network
// access and is rate limited, so it should sit behind a cache.
type LichessProber struct {
	client    *http.Client
	baseURL   string
	maxPieces int
}

// NewLichessProber creates an online prober for up to 7-piece endings.
func NewLichessProber() *LichessProber {
	return &LichessProber{
		client:    &http.Client{Timeout: 5 * time.Second},
		baseURL:   "https://tablebase.lichess.ovh/standard",
		maxPieces: 7,
	}
}

type lichessResponse struct {
	Category string `json:"category"`
	DTZ      int    `json:"dtz"`
}

// ProbeWDL implements Prober.
func (lp *LichessProber) ProbeWDL(pos *board.Position) (int, error) {
	if CountPieces(pos) > lp.maxPieces {
		return 0, ErrProbeFail
	}

	// Lichess wants the FEN with underscores for spaces.
	fen := strings.ReplaceAll(pos.ToFEN(), " ", "_")

	resp, err := lp.client.Get(fmt.Sprintf("%s?fen=%s", lp.baseURL, fen))
	if err != nil {
		return 0, ErrProbeFail
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, ErrProbeFail
	}

	var result lichessResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return 0, ErrProbeFail
	}

	return categoryToWDL(result.Category), nil
}

// MaxPieces implements Prober.
func (lp *LichessProber) MaxPieces() int { return lp.maxPieces }

func categoryToWDL(category string) int {
	switch category {
	case "win":
		return WDLWin
	case "cursed-win", "maybe-win":
		return WDLCursedWin
	case "blessed-loss", "maybe-loss":
		return WDLBlessedLoss
	case "loss":
		return WDLLoss
	default:
		return WDLDraw
	}
}
