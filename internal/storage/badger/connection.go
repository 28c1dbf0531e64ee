package badger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/agentstream/internal/common"
)

// maxGCRounds caps value log rewrites per compaction.
const maxGCRounds = 10

// BadgerDB owns the run-history store on disk.
type BadgerDB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// storeOptions encodes records as JSON; run histories carry free-form maps
// that gob would need every concrete type registered for.
func storeOptions(path string) badgerhold.Options {
	return badgerhold.Options{
		Encoder: json.Marshal,
		Decoder: json.Unmarshal,
		Options: badger.DefaultOptions(path).WithLogger(nil),
	}
}

// NewBadgerDB opens the store at config.Path, wiping it first when
// reset_on_startup is set.
func NewBadgerDB(logger arbor.ILogger, config *common.BadgerConfig) (*BadgerDB, error) {
	if config.ResetOnStartup {
		resetDirectory(logger, config.Path)
	}
	if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage parent for %s: %w", config.Path, err)
	}

	store, err := badgerhold.Open(storeOptions(config.Path))
	if err != nil {
		return nil, fmt.Errorf("open run store at %s: %w", config.Path, err)
	}

	lsm, vlog := store.Badger().Size()
	logger.Debug().
		Str("path", config.Path).
		Int64("lsm_bytes", lsm).
		Int64("vlog_bytes", vlog).
		Msg("Run store opened")

	return &BadgerDB{store: store, logger: logger, config: config}, nil
}

// resetDirectory removes a previous store. Failure is logged and the open
// proceeds against whatever remains.
func resetDirectory(logger arbor.ILogger, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := os.RemoveAll(path); err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("Could not reset run store")
		return
	}
	logger.Debug().Str("path", path).Msg("Run store reset")
}

func (b *BadgerDB) Store() *badgerhold.Store {
	return b.store
}

// CompactValueLog rewrites value log files until badger has nothing left to
// reclaim, or maxGCRounds is reached. Called after retention deletes runs.
func (b *BadgerDB) CompactValueLog() {
	db := b.store.Badger()
	rounds := 0
	for ; rounds < maxGCRounds; rounds++ {
		err := db.RunValueLogGC(0.5)
		if errors.Is(err, badger.ErrNoRewrite) {
			break
		}
		if err != nil {
			b.logger.Debug().Err(err).Int("rounds", rounds).Msg("Value log GC stopped")
			return
		}
	}

	_, vlog := db.Size()
	b.logger.Debug().Int("rounds", rounds).Int64("vlog_bytes", vlog).Msg("Value log compacted")
}

func (b *BadgerDB) Close() error {
	if b.store == nil {
		return nil
	}
	return b.store.Close()
}
