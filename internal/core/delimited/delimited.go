// Package delimited reads and writes the delimited extract files every stage streams.
// Inputs are decoded to UTF-8 (a leading byte order mark is dropped); outputs are
// always written as UTF-8
package delimited

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"strings"

	perr "extractrelay/internal/platform/errors"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format describes how a source lays out its files
type Format struct {
	Delimiter  rune
	Header     bool
	LazyQuotes bool
	// Encoding is "utf-8" (default) or "windows-1252"
	Encoding string
}

// Default is comma separated UTF-8 with a header row
var Default = Format{Delimiter: ',', Header: true}

func (f Format) comma() rune {
	if f.Delimiter == 0 {
		return ','
	}
	return f.Delimiter
}

func (f Format) decoder(r io.Reader) io.Reader {
	switch strings.ToLower(f.Encoding) {
	case "windows-1252", "cp1252":
		return transform.NewReader(r, charmap.Windows1252.NewDecoder())
	case "latin1", "iso-8859-1":
		return transform.NewReader(r, charmap.ISO8859_1.NewDecoder())
	case "utf-16le":
		return transform.NewReader(r, unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder())
	default:
		return transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	}
}

// Reader streams records from one file
type Reader struct {
	f      *os.File
	cr     *csv.Reader
	header []string
	line   int
}

// Open opens path and consumes the header row when the format has one
func Open(path string, f Format) (*Reader, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "open %s", path)
	}
	cr := csv.NewReader(bufio.NewReaderSize(f.decoder(fh), 64<<10))
	cr.Comma = f.comma()
	cr.LazyQuotes = f.LazyQuotes
	cr.FieldsPerRecord = -1

	r := &Reader{f: fh, cr: cr}
	if f.Header {
		h, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return r, nil
		}
		if err != nil {
			_ = fh.Close()
			return nil, perr.Wrapf(err, perr.ErrorCodeParse, "read header of %s", path)
		}
		r.header = h
	}
	return r, nil
}

// Header returns the header row, nil for headerless formats or empty files
func (r *Reader) Header() []string { return r.header }

// Line returns the 1-based number of data records read so far
func (r *Reader) Line() int { return r.line }

// Read returns the next record or io.EOF
func (r *Reader) Read() ([]string, error) {
	rec, err := r.cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, perr.Wrapf(err, perr.ErrorCodeParse, "%s record %d", r.f.Name(), r.line+1)
	}
	r.line++
	return rec, nil
}

// Close releases the file
func (r *Reader) Close() error { return r.f.Close() }

// Writer writes records to one file
type Writer struct {
	f  *os.File
	bw *bufio.Writer
	cw *csv.Writer
}

// Create truncates path (or appends when appendMode is set) and returns a writer
func Create(path string, f Format, appendMode bool) (*Writer, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	fh, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, perr.Wrapf(err, perr.ErrorCodeIO, "create %s", path)
	}
	bw := bufio.NewWriterSize(fh, 32<<10)
	cw := csv.NewWriter(bw)
	cw.Comma = f.comma()
	return &Writer{f: fh, bw: bw, cw: cw}, nil
}

// Write appends one record
func (w *Writer) Write(rec []string) error {
	if err := w.cw.Write(rec); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "write %s", w.f.Name())
	}
	return nil
}

// Flush pushes buffered records to the file
func (w *Writer) Flush() error {
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "flush %s", w.f.Name())
	}
	return w.bw.Flush()
}

// Close flushes and closes the file
func (w *Writer) Close() error {
	ferr := w.Flush()
	cerr := w.f.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Column returns the index of name in header, ignoring case and surrounding space
func Column(header []string, name string) (int, bool) {
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i, true
		}
	}
	return -1, false
}

// Columns resolves every name or returns an error naming the first missing one
func Columns(header []string, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, n := range names {
		idx, ok := Column(header, n)
		if !ok {
			return nil, perr.Newf(perr.ErrorCodeParse, "column %q not found", n)
		}
		out[i] = idx
	}
	return out, nil
}

// Field returns rec[i] or "" when the record is short
func Field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return rec[i]
}

// Rewrite streams src through keep into a sibling temp file and renames it over src.
// The header is always preserved. It returns the number of data records kept
func Rewrite(src string, f Format, keep func(rec []string) (bool, error)) (int, error) {
	return FilterTo(src, src, f, keep)
}

// FilterTo streams src through keep into dst, writing dst.part first and renaming it
// into place once every record has been written. src and dst may be the same path
func FilterTo(src, dst string, f Format, keep func(rec []string) (bool, error)) (int, error) {
	r, err := Open(src, f)
	if err != nil {
		return 0, err
	}
	defer r.Close()

	tmp := dst + ".part"
	w, err := Create(tmp, f, false)
	if err != nil {
		return 0, err
	}
	if h := r.Header(); h != nil {
		if err := w.Write(h); err != nil {
			_ = w.Close()
			return 0, err
		}
	}
	kept := 0
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err == nil {
			var ok bool
			ok, err = keep(rec)
			if err == nil && ok {
				kept++
				err = w.Write(rec)
			}
		}
		if err != nil {
			_ = w.Close()
			_ = os.Remove(tmp)
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	if err := os.Rename(tmp, dst); err != nil {
		return 0, perr.Wrapf(err, perr.ErrorCodeIO, "replace %s", dst)
	}
	return kept, nil
}

// WriteAll writes header (when non-nil) and recs to path through a .part rename
func WriteAll(path string, f Format, header []string, recs [][]string) error {
	tmp := path + ".part"
	w, err := Create(tmp, f, false)
	if err != nil {
		return err
	}
	if header != nil {
		if err := w.Write(header); err != nil {
			_ = w.Close()
			return err
		}
	}
	for _, rec := range recs {
		if err := w.Write(rec); err != nil {
			_ = w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return perr.Wrapf(err, perr.ErrorCodeIO, "replace %s", path)
	}
	return nil
}

// CountRows returns the number of data records in path
func CountRows(path string, f Format) (int, error) {
	r, err := Open(path, f)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n := 0
	for {
		if _, err := r.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, err
		}
		n++
	}
}
