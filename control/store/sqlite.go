package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const initDatabase = `
CREATE TABLE IF NOT EXISTS options (addr integer primary key, value integer not null);
`

// SQLite keeps settings in a sqlite database.  Commit writes the pending values in one
// transaction.
type SQLite struct {
	*buffer
	db *sql.DB
}

// OpenSQLite opens or creates the database in filename.  ":memory:" works for tests.
func OpenSQLite(filename string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filename)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Every connection to ":memory:" is a different database.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(initDatabase); err != nil {
		db.Close()
		return nil, fmt.Errorf("init database: %w", err)
	}
	committed, err := readAll(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{buffer: newBuffer(committed), db: db}, nil
}

func readAll(db *sql.DB) (map[uint8]byte, error) {
	rows, err := db.Query("select addr, value from options")
	if err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	defer rows.Close()
	result := map[uint8]byte{}
	for rows.Next() {
		var addr, value int
		if err := rows.Scan(&addr, &value); err != nil {
			return nil, fmt.Errorf("scan option: %w", err)
		}
		if addr < 0 || addr > 0xff || value < 0 || value > 0xff {
			return nil, fmt.Errorf("option %d = %d does not fit in a byte", addr, value)
		}
		result[uint8(addr)] = byte(value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read options: %w", err)
	}
	return result, nil
}

// Commit implements options.Store.
func (s *SQLite) Commit() error {
	return s.commit(func(_, pending map[uint8]byte) error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		st, err := tx.Prepare("insert or replace into options (addr, value) values (?, ?)")
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("prepare: %w", err)
		}
		defer st.Close()
		for addr, v := range pending {
			if _, err := st.Exec(int(addr), int(v)); err != nil {
				tx.Rollback()
				return fmt.Errorf("write option %d: %w", addr, err)
			}
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
