// Package detect classifies an arbitrary uploaded file as a SQLite
// database, a PostgreSQL dump, or unknown. Classification is a pure
// function of the file bytes; the extension is never trusted.
package detect

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"time"

	"github.com/klauspost/pgzip"
	_ "modernc.org/sqlite"

	"github.com/JosiasDMartins/WIMM-Finance-sub000/internal/dbkind"
)

// Confidence grades how certain the classification is.
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow marks the plain-SQL dump path, which matches on header
	// comments rather than a binary signature.
	ConfidenceLow Confidence = "low"
)

// Result is the outcome of detection. Immutable once returned.
type Result struct {
	Kind       dbkind.Kind
	Confidence Confidence
	Size       int64
	CreatedAt  time.Time
	// PlainSQL is set when the artifact is a plain-SQL dump rather than a
	// pg_dump custom-format archive; restore must go through psql, not
	// pg_restore.
	PlainSQL bool
	// Compressed is set when the artifact is gzip-wrapped.
	Compressed bool
}

const (
	// sqliteMagic is the 16-byte header of every SQLite database file.
	sqliteMagic = "SQLite format 3\x00"
	// pgdmpMagic opens every pg_dump custom-format archive.
	pgdmpMagic = "PGDMP"
	// sniffLimit bounds the prefix scanned for plain-SQL dump markers.
	sniffLimit = 64 * 1024
)

var plainSQLMarkers = [][]byte{
	[]byte("PostgreSQL database dump"),
	[]byte("pg_dump version"),
	[]byte("Dumped by pg_dump"),
}

// Detect classifies the file at path. It never returns an error for
// malformed content: anything unrecognizable is dbkind.Unknown. The input
// file is opened read-only and never mutated or locked.
func Detect(ctx context.Context, path string) Result {
	res := Result{Kind: dbkind.Unknown, CreatedAt: time.Now()}

	stat, err := os.Stat(path)
	if err != nil {
		return res
	}
	res.Size = stat.Size()
	if stat.Size() == 0 {
		return res
	}

	prefix, compressed := readPrefix(path)
	res.Compressed = compressed
	if len(prefix) == 0 {
		return res
	}

	// SQLite first: the header check is cheap, and a trial open with a
	// trivial read confirms the file really is a usable database rather
	// than sixteen lucky bytes. A gzip-wrapped database cannot be trial
	// opened in place; its magic survived decompression, which is enough,
	// and the restore path verifies the decompressed copy anyway.
	if bytes.HasPrefix(prefix, []byte(sqliteMagic)) && (compressed || sqliteOpens(ctx, path)) {
		res.Kind = dbkind.SQLite
		res.Confidence = ConfidenceHigh
		return res
	}

	if bytes.HasPrefix(prefix, []byte(pgdmpMagic)) {
		res.Kind = dbkind.PostgreSQL
		res.Confidence = ConfidenceHigh
		return res
	}

	for _, marker := range plainSQLMarkers {
		if bytes.Contains(prefix, marker) {
			res.Kind = dbkind.PostgreSQL
			res.Confidence = ConfidenceLow
			res.PlainSQL = true
			return res
		}
	}

	return res
}

// readPrefix reads up to sniffLimit bytes, transparently decompressing a
// gzip wrapper. Returns the prefix and whether the file was gzip-wrapped.
func readPrefix(path string) ([]byte, bool) {
	file, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer func() { _ = file.Close() }()

	head := make([]byte, 2)
	n, err := io.ReadFull(file, head)
	if err != nil || n < 2 {
		return nil, false
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, false
	}

	var reader io.Reader = file
	compressed := head[0] == 0x1f && head[1] == 0x8b
	if compressed {
		gz, err := pgzip.NewReader(file)
		if err != nil {
			// Gzip magic but a broken stream: classify on raw bytes.
			return head, false
		}
		defer func() { _ = gz.Close() }()
		reader = gz
	}

	prefix := make([]byte, sniffLimit)
	n, err = io.ReadFull(reader, prefix)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, compressed
	}
	return prefix[:n], compressed
}

// sqliteOpens attempts a read-only open plus a trivial read of
// sqlite_master. immutable=1 guarantees no lock or journal side effects on
// the input file.
func sqliteOpens(ctx context.Context, path string) bool {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&immutable=1")
	if err != nil {
		return false
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var count int
	err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sqlite_master").Scan(&count)
	return err == nil
}
