package record

import (
	"fmt"

	"github.com/openmined/gdmirror/internal/entity"
)

// Stats summarizes the record table.
type Stats struct {
	Kinds   map[entity.Kind]*KindStats `yaml:"kinds"`
	Deleted int                        `yaml:"deleted"`
}

type KindStats struct {
	Files    int            `yaml:"files"`
	Dirs     int            `yaml:"dirs"`
	Bytes    int64          `yaml:"bytes"`
	ByStatus map[Status]int `yaml:"by_status"`
}

func (s *Store) Stats() (*Stats, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Kind   string `db:"kind"`
		IsDir  bool   `db:"is_dir"`
		Status string `db:"status"`
		Count  int    `db:"n"`
		Bytes  int64  `db:"bytes"`
	}
	err = conn.Select(&rows, `SELECT kind, is_dir, status, COUNT(*) AS n, COALESCE(SUM(size), 0) AS bytes
		FROM records WHERE deleted = 0 GROUP BY kind, is_dir, status`)
	if err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}

	stats := &Stats{Kinds: map[entity.Kind]*KindStats{}}
	for _, k := range []entity.Kind{entity.KindLocal, entity.KindRemote} {
		stats.Kinds[k] = &KindStats{ByStatus: map[Status]int{}}
	}
	for _, r := range rows {
		ks, ok := stats.Kinds[entity.Kind(r.Kind)]
		if !ok {
			continue
		}
		if r.IsDir {
			ks.Dirs += r.Count
		} else {
			ks.Files += r.Count
		}
		ks.Bytes += r.Bytes
		ks.ByStatus[Status(r.Status)] += r.Count
	}

	if err := conn.Get(&stats.Deleted, `SELECT COUNT(*) FROM records WHERE deleted = 1`); err != nil {
		return nil, fmt.Errorf("record stats: %w", err)
	}
	return stats, nil
}
