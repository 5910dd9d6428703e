// Command corvid-uci runs the engine behind the UCI protocol.
package main

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/corvidchess/corvid/internal/engine"
	"github.com/corvidchess/corvid/internal/storage"
	"github.com/corvidchess/corvid/internal/uci"
)

// Default NNUE file names (Stockfish network naming).
const (
	defaultBigNet   = "nn-c288c895ea92.nnue"
	defaultSmallNet = "nn-37f18f62d772.nnue"
)

func main() {
	var (
		hashMB   = pflag.Int("hash", 0, "transposition table size in MB (0 = auto from system memory)")
		threads  = pflag.Int("threads", 1, "number of search threads")
		evalFile = pflag.String("eval-file", "", "path to the big NNUE network")
		evalFileSmall = pflag.String("eval-file-small", "", "path to the small NNUE network")
		debug    = pflag.Bool("debug", false, "verbose logging")
	)
	pflag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).With().Timestamp().Logger()

	mb := *hashMB
	if mb <= 0 {
		// A sixteenth of physical memory, within sane bounds.
		mb = int(memory.TotalMemory() / (16 * 1024 * 1024))
		mb = boundHash(mb)
	}

	nThreads := *threads
	if nThreads <= 0 {
		nThreads = runtime.NumCPU()
	}

	pool := engine.NewPool(nThreads, mb, log)

	big, small := *evalFile, *evalFileSmall
	if big == "" || small == "" {
		big, small = findNetworks(log)
	}
	if big != "" && small != "" {
		if err := pool.LoadNetworks(big, small); err != nil {
			log.Warn().Err(err).Msg("NNUE not loaded, using classical evaluation")
		} else {
			log.Info().Str("big", big).Str("small", small).Msg("NNUE networks loaded")
		}
	}

	uci.New(pool, log).Run()
}

func boundHash(mb int) int {
	if mb < 16 {
		return 16
	}
	if mb > 1024 {
		return 1024
	}
	return mb
}

// findNetworks searches the standard locations for the default network
// pair.
func findNetworks(log zerolog.Logger) (string, string) {
	dirs := []string{".", "./nnue"}
	if netDir, err := storage.NetworkDir(); err == nil {
		dirs = append(dirs, netDir)
	}

	for _, dir := range dirs {
		big := filepath.Join(dir, defaultBigNet)
		small := filepath.Join(dir, defaultSmallNet)
		if fileExists(big) && fileExists(small) {
			log.Debug().Str("dir", dir).Msg("found NNUE networks")
			return big, small
		}
	}
	return "", ""
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
