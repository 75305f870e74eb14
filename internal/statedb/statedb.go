// Package statedb implements apl's single-writer state database:
// packages, files, and history rows backed by modernc.org/sqlite, owned
// exclusively by one goroutine. Every caller, however many there are,
// talks to that goroutine through typed messages carrying a one-shot
// reply channel, since the backing store is a real transactional database
// that wants a single owner for the duration of each call.
package statedb

import (
	"context"
	"database/sql"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jpmacdonald/apl/internal/pkgerr"
)

// PackageRow is one row of the packages table.
type PackageRow struct {
	Name        string
	Version     string
	Hash        string
	SizeBytes   int64
	Active      bool
	InstalledAt time.Time
}

// FileRow is one row of the files table.
type FileRow struct {
	Path    string
	Package string
	Hash    string
}

// HistoryEntry is one row of the history table.
type HistoryEntry struct {
	Package     string
	Action      string
	FromVersion string
	ToVersion   string
	Success     bool
	At          time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS packages (
	name         TEXT PRIMARY KEY,
	version      TEXT NOT NULL,
	hash         TEXT NOT NULL,
	size_bytes   INTEGER NOT NULL,
	active       INTEGER NOT NULL,
	installed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	path    TEXT PRIMARY KEY,
	package TEXT NOT NULL REFERENCES packages(name) ON DELETE CASCADE,
	hash    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS history (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	package      TEXT NOT NULL,
	action       TEXT NOT NULL,
	from_version TEXT,
	to_version   TEXT,
	success      INTEGER NOT NULL,
	at           INTEGER NOT NULL
);
`

// request is one message sent to the actor goroutine: op runs there
// against the database, and its value and error come back on reply.
type request struct {
	op    func(db *sql.DB) (any, error)
	reply chan result
}

type result struct {
	value any
	err   error
}

// DB is a handle to the actor goroutine. Share it by pointer; every caller
// sends requests over the same channel, so no caller-side locking is needed.
type DB struct {
	requests  chan request
	closeOnce sync.Once
}

// Open starts the actor goroutine over path and returns a handle to it.
// The underlying *sql.DB is never exposed outside the actor goroutine.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "opening state database", err)
	}
	sqlDB.SetMaxOpenConns(1) // this process's only writer; the actor serializes everything else

	if _, err := sqlDB.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		sqlDB.Close()
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "enabling foreign keys", err)
	}

	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, pkgerr.Wrap(pkgerr.KindIO, path, "creating schema", err)
	}

	db := &DB{requests: make(chan request)}
	go db.run(sqlDB)
	return db, nil
}

func (db *DB) run(sqlDB *sql.DB) {
	defer sqlDB.Close()
	for req := range db.requests {
		v, err := req.op(sqlDB)
		req.reply <- result{value: v, err: err}
	}
}

// call sends op to the actor and blocks for its reply, or returns early if
// ctx is canceled first, surfaced as ctx.Err().
func (db *DB) call(ctx context.Context, op func(db *sql.DB) (any, error)) (any, error) {
	req := request{op: op, reply: make(chan result, 1)}
	select {
	case db.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown closes the requests channel, causing the actor goroutine to
// exit once it drains any in-flight messages. Safe to call more than once.
func (db *DB) Shutdown() {
	db.closeOnce.Do(func() { close(db.requests) })
}

// GetPackage fetches a single package row by name.
func (db *DB) GetPackage(ctx context.Context, name string) (*PackageRow, error) {
	v, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		row := sqlDB.QueryRow(`SELECT name, version, hash, size_bytes, active, installed_at FROM packages WHERE name = ?`, name)
		var p PackageRow
		var active int
		var installedAt int64
		if err := row.Scan(&p.Name, &p.Version, &p.Hash, &p.SizeBytes, &active, &installedAt); err != nil {
			if err == sql.ErrNoRows {
				return nil, pkgerr.NotFound(name)
			}
			return nil, pkgerr.Wrap(pkgerr.KindIO, name, "querying package", err)
		}
		p.Active = active != 0
		p.InstalledAt = time.Unix(installedAt, 0)
		return &p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PackageRow), nil
}

// GetPackageFiles lists every file row belonging to a package.
func (db *DB) GetPackageFiles(ctx context.Context, name string) ([]FileRow, error) {
	v, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		rows, err := sqlDB.Query(`SELECT path, package, hash FROM files WHERE package = ?`, name)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, name, "querying files", err)
		}
		defer rows.Close()
		var files []FileRow
		for rows.Next() {
			var f FileRow
			if err := rows.Scan(&f.Path, &f.Package, &f.Hash); err != nil {
				return nil, pkgerr.Wrap(pkgerr.KindIO, name, "scanning file row", err)
			}
			files = append(files, f)
		}
		return files, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]FileRow), nil
}

// RemovePackage deletes a package row (cascading to its files) and returns
// the absolute file paths the caller must now delete from disk.
func (db *DB) RemovePackage(ctx context.Context, name string) ([]string, error) {
	v, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		rows, err := sqlDB.Query(`SELECT path FROM files WHERE package = ?`, name)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, name, "querying files before removal", err)
		}
		var paths []string
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				rows.Close()
				return nil, pkgerr.Wrap(pkgerr.KindIO, name, "scanning file path", err)
			}
			paths = append(paths, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if _, err := sqlDB.Exec(`DELETE FROM packages WHERE name = ?`, name); err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, name, "deleting package row", err)
		}
		return paths, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// ListPackages returns every package row, ordered by name.
func (db *DB) ListPackages(ctx context.Context) ([]PackageRow, error) {
	v, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		rows, err := sqlDB.Query(`SELECT name, version, hash, size_bytes, active, installed_at FROM packages ORDER BY name`)
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, "", "querying packages", err)
		}
		defer rows.Close()
		var pkgs []PackageRow
		for rows.Next() {
			var p PackageRow
			var active int
			var installedAt int64
			if err := rows.Scan(&p.Name, &p.Version, &p.Hash, &p.SizeBytes, &active, &installedAt); err != nil {
				return nil, pkgerr.Wrap(pkgerr.KindIO, "", "scanning package row", err)
			}
			p.Active = active != 0
			p.InstalledAt = time.Unix(installedAt, 0)
			pkgs = append(pkgs, p)
		}
		return pkgs, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]PackageRow), nil
}

// ListHistory returns history entries for a package (or every package, if
// name is empty), most recent first, capped at limit rows.
func (db *DB) ListHistory(ctx context.Context, name string, limit int) ([]HistoryEntry, error) {
	v, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		var rows *sql.Rows
		var err error
		if name == "" {
			rows, err = sqlDB.Query(`SELECT package, action, from_version, to_version, success, at FROM history ORDER BY at DESC, id DESC LIMIT ?`, limit)
		} else {
			rows, err = sqlDB.Query(`SELECT package, action, from_version, to_version, success, at FROM history WHERE package = ? ORDER BY at DESC, id DESC LIMIT ?`, name, limit)
		}
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, name, "querying history", err)
		}
		defer rows.Close()
		var entries []HistoryEntry
		for rows.Next() {
			var h HistoryEntry
			var success int
			var at int64
			if err := rows.Scan(&h.Package, &h.Action, &h.FromVersion, &h.ToVersion, &success, &at); err != nil {
				return nil, pkgerr.Wrap(pkgerr.KindIO, name, "scanning history row", err)
			}
			h.Success = success != 0
			h.At = time.Unix(at, 0)
			entries = append(entries, h)
		}
		return entries, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return v.([]HistoryEntry), nil
}

// AddHistory records one history entry.
func (db *DB) AddHistory(ctx context.Context, h HistoryEntry) error {
	_, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		success := 0
		if h.Success {
			success = 1
		}
		_, err := sqlDB.Exec(
			`INSERT INTO history (package, action, from_version, to_version, success, at) VALUES (?, ?, ?, ?, ?, ?)`,
			h.Package, h.Action, h.FromVersion, h.ToVersion, success, h.At.Unix(),
		)
		return nil, err
	})
	return err
}

// InstallCompletePackage records a package row and its file rows in a
// single transaction.
func (db *DB) InstallCompletePackage(ctx context.Context, pkg PackageRow, files []FileRow) error {
	_, err := db.call(ctx, func(sqlDB *sql.DB) (any, error) {
		tx, err := sqlDB.Begin()
		if err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, pkg.Name, "starting transaction", err)
		}

		active := 0
		if pkg.Active {
			active = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO packages (name, version, hash, size_bytes, active, installed_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(name) DO UPDATE SET version=excluded.version, hash=excluded.hash,
				size_bytes=excluded.size_bytes, active=excluded.active, installed_at=excluded.installed_at`,
			pkg.Name, pkg.Version, pkg.Hash, pkg.SizeBytes, active, pkg.InstalledAt.Unix(),
		); err != nil {
			tx.Rollback()
			return nil, pkgerr.Wrap(pkgerr.KindIO, pkg.Name, "upserting package row", err)
		}

		for _, f := range files {
			if _, err := tx.Exec(
				`INSERT INTO files (path, package, hash) VALUES (?, ?, ?)
				 ON CONFLICT(path) DO UPDATE SET package=excluded.package, hash=excluded.hash`,
				f.Path, f.Package, f.Hash,
			); err != nil {
				tx.Rollback()
				return nil, pkgerr.Wrap(pkgerr.KindIO, f.Path, "inserting file row", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return nil, pkgerr.Wrap(pkgerr.KindIO, pkg.Name, "committing transaction", err)
		}
		return nil, nil
	})
	return err
}
