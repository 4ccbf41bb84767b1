package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	schema "gitlab.diskarte.net/engineering/redis-admin"
)

// openAtomic creates path+".tmp" and returns the (possibly
// gzip-wrapped) writer plus commit and abort hooks. Commit flushes,
// syncs and renames into place; abort removes the temporary file.
func openAtomic(path string) (io.Writer, func() error, func(), error) {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, nil, nil, err
	}
	var (
		w  io.Writer = f
		gz *gzip.Writer
	)
	if strings.HasSuffix(path, ".gz") {
		gz = gzip.NewWriter(f)
		w = gz
	}
	commit := func() error {
		if gz != nil {
			if err := gz.Close(); err != nil {
				f.Close()
				os.Remove(tmp)
				return err
			}
		}
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmp)
			return err
		}
		if err := f.Close(); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, path)
	}
	abort := func() {
		f.Close()
		os.Remove(tmp)
	}
	return w, commit, abort, nil
}

// entrySink writes entries incrementally, one per key.
type entrySink interface {
	write(*entry) error
	flush() error
}

// nullSink backs dry runs: everything would have been written.
type nullSink struct{}

func (nullSink) write(*entry) error { return nil }
func (nullSink) flush() error       { return nil }

// jsonSink streams a JSON array without buffering the whole key
// space.
type jsonSink struct {
	w io.Writer
	n int
}

func newJSONSink(w io.Writer) *jsonSink { return &jsonSink{w: w} }

func (s *jsonSink) write(ent *entry) error {
	sep := ",\n  "
	if s.n == 0 {
		sep = "[\n  "
	}
	b, err := json.Marshal(ent)
	if err != nil {
		return &schema.SerializationError{Key: ent.Name, Err: err}
	}
	if _, err := io.WriteString(s.w, sep); err != nil {
		return err
	}
	if _, err := s.w.Write(b); err != nil {
		return err
	}
	s.n++
	return nil
}

func (s *jsonSink) flush() error {
	if s.n == 0 {
		_, err := io.WriteString(s.w, "[]\n")
		return err
	}
	_, err := io.WriteString(s.w, "\n]\n")
	return err
}

// csvSink writes the name,type,ttl,value rows with RFC 4180 quoting.
type csvSink struct {
	cw *csv.Writer
}

func newCSVSink(w io.Writer) (*csvSink, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"name", "type", "ttl", "value"}); err != nil {
		return nil, err
	}
	return &csvSink{cw: cw}, nil
}

func (s *csvSink) write(ent *entry) error {
	ttl := ""
	if ent.TTL != nil {
		ttl = strconv.FormatInt(*ent.TTL, 10)
	}
	value := ""
	if str, ok := ent.Value.(string); ok && ent.Type == schema.TypeString {
		value = str
	} else {
		b, err := json.Marshal(ent.Value)
		if err != nil {
			return &schema.SerializationError{Key: ent.Name, Err: err}
		}
		value = string(b)
	}
	return s.cw.Write([]string{ent.Name, string(ent.Type), ttl, value})
}

func (s *csvSink) flush() error {
	s.cw.Flush()
	return s.cw.Error()
}
