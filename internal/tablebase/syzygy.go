package tablebase

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/corvidchess/corvid/internal/board"
	"github.com/corvidchess/corvid/internal/storage"
)

// SyzygyProber serves WDL probes for a local Syzygy directory. Scanning
// the directory determines the covered piece count; the probes themselves
// go through the cached Lichess backend, which answers from the same
// tables. Positions beyond the local coverage are rejected so the search
// only pays for probes the configuration promises.
//
// SyzygyProber satisfies the search's Tablebase contract: ProbeWDL with an
// ok flag plus MaxPieces.
type SyzygyProber struct {
	path string
	log  zerolog.Logger

	mu        sync.RWMutex
	maxPieces int

	backend Prober
	store   *storage.Store
}

// NewSyzygyProber creates a prober rooted at path. An empty or missing
// directory falls back to the API's 7-piece coverage.
func NewSyzygyProber(path string, log zerolog.Logger) *SyzygyProber {
	sp := &SyzygyProber{
		path: path,
		log:  log,
	}

	if store, err := storage.Open(); err == nil {
		sp.store = store
	} else {
		log.Warn().Err(err).Msg("probe cache unavailable, continuing without")
	}
	sp.backend = NewCachedProber(NewLichessProber(), sp.store)

	sp.refresh()
	return sp
}

// refresh rescans the tablebase directory.
func (sp *SyzygyProber) refresh() {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.maxPieces = sp.scanLocalFiles()
	if sp.maxPieces == 0 {
		// No local files: lean on the online backend.
		sp.maxPieces = sp.backend.MaxPieces()
		sp.log.Info().Str("path", sp.path).
			Msg("no local tablebase files, using online fallback")
		return
	}
	sp.log.Info().Str("path", sp.path).Int("maxPieces", sp.maxPieces).
		Msg("local tablebase files found")
}

// scanLocalFiles counts the piece coverage of the .rtbw files present.
// A file like KQvKR.rtbw covers 4 pieces (names count men, 'v' excluded).
func (sp *SyzygyProber) scanLocalFiles() int {
	entries, err := os.ReadDir(sp.path)
	if err != nil {
		return 0
	}

	maxPieces := 0
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".rtbw" {
			continue
		}
		base := strings.TrimSuffix(name, ".rtbw")
		pieces := len(strings.ReplaceAll(base, "v", ""))
		if pieces > maxPieces {
			maxPieces = pieces
		}
	}
	return maxPieces
}

// SetPath points the prober at a new directory.
func (sp *SyzygyProber) SetPath(path string) {
	sp.mu.Lock()
	sp.path = path
	sp.mu.Unlock()
	sp.refresh()
}

// MaxPieces reports the covered piece count.
func (sp *SyzygyProber) MaxPieces() int {
	sp.mu.RLock()
	defer sp.mu.RUnlock()
	return sp.maxPieces
}

// ProbeWDL answers a WDL query; ok is false when the probe failed or the
// position exceeds the coverage.
func (sp *SyzygyProber) ProbeWDL(pos *board.Position) (int, bool) {
	if CountPieces(pos) > sp.MaxPieces() {
		return 0, false
	}
	wdl, err := sp.backend.ProbeWDL(pos)
	if err != nil {
		return 0, false
	}
	return wdl, true
}

// Close releases the persistent cache.
func (sp *SyzygyProber) Close() error {
	if sp.store != nil {
		return sp.store.Close()
	}
	return nil
}
