// Package persist stores edited chunk snapshots in a local sqlite database
// so player edits survive eviction and restarts. Only edited chunks are
// saved; everything else is cheaper to regenerate than to read back.
package persist

import (
	"bytes"
	"database/sql"
	"encoding/gob"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/micaelzudo/infinia3-sub005/internal/terrain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chunk_snapshots (
	coord      TEXT PRIMARY KEY,
	payload    BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);`

// snapshot is the gob payload for one chunk. Edited is nil-safe: chunks
// saved without a mask load back with a fresh one.
type snapshot struct {
	Density []float32
	Edited  []bool
}

// Store persists chunk snapshots. Safe for concurrent use; database/sql
// serializes access to the single sqlite connection.
type Store struct {
	db  *sql.DB
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open creates or opens the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create snapshot schema: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, enc: enc, dec: dec}, nil
}

// SaveChunk writes or replaces the snapshot for coord.
func (s *Store) SaveChunk(coord terrain.ChunkCoord, grid *terrain.DensityGrid, mask *terrain.EditMask) error {
	snap := snapshot{Density: grid.Raw()}
	if mask != nil {
		snap.Edited = mask.Raw()
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot %v: %w", coord, err)
	}
	blob := s.enc.EncodeAll(buf.Bytes(), nil)
	_, err := s.db.Exec(
		`INSERT INTO chunk_snapshots (coord, payload, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(coord) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		coord.Key(), blob, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot %v: %w", coord, err)
	}
	return nil
}

// LoadChunk reads the snapshot for coord. ok is false when none exists.
func (s *Store) LoadChunk(coord terrain.ChunkCoord) (grid *terrain.DensityGrid, mask *terrain.EditMask, ok bool, err error) {
	var blob []byte
	row := s.db.QueryRow(`SELECT payload FROM chunk_snapshots WHERE coord = ?`, coord.Key())
	if err := row.Scan(&blob); err == sql.ErrNoRows {
		return nil, nil, false, nil
	} else if err != nil {
		return nil, nil, false, fmt.Errorf("load snapshot %v: %w", coord, err)
	}
	raw, err := s.dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, nil, false, fmt.Errorf("decompress snapshot %v: %w", coord, err)
	}
	var snap snapshot
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&snap); err != nil {
		return nil, nil, false, fmt.Errorf("decode snapshot %v: %w", coord, err)
	}
	grid = terrain.NewDensityGrid()
	if copy(grid.Raw(), snap.Density) != len(grid.Raw()) {
		return nil, nil, false, fmt.Errorf("snapshot %v has %d density samples, want %d",
			coord, len(snap.Density), len(grid.Raw()))
	}
	mask = terrain.NewEditMask()
	copy(mask.Raw(), snap.Edited)
	return grid, mask, true, nil
}

// DeleteChunk removes the snapshot for coord, if any.
func (s *Store) DeleteChunk(coord terrain.ChunkCoord) error {
	_, err := s.db.Exec(`DELETE FROM chunk_snapshots WHERE coord = ?`, coord.Key())
	return err
}

// Count returns the number of stored snapshots.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM chunk_snapshots`).Scan(&n)
	return n, err
}

// Close releases the database and codec resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}
