package statistics

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/loykin/runstats/internal/document"
	"github.com/stretchr/testify/require"
)

const testPath = "/stats/statistics.xml"

type memFS struct {
	files     map[string][]byte
	writes    int
	failRead  error
	failWrite error
}

func newMemFS() *memFS { return &memFS{files: make(map[string][]byte)} }

// seededFS holds an empty but valid statistics file, so New performs no write
// and the first update is not throttled.
func seededFS() *memFS {
	fs := newMemFS()
	fs.files[testPath] = []byte("<ConfigStatistics />\n")
	return fs
}

func (m *memFS) ReadFile(path string) ([]byte, error) {
	if m.failRead != nil {
		return nil, m.failRead
	}
	b, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), b...), nil
}

func (m *memFS) WriteFile(path string, data []byte) error {
	if m.failWrite != nil {
		return m.failWrite
	}
	m.writes++
	m.files[path] = append([]byte(nil), data...)
	return nil
}

type fakeClock struct{ now time.Time }

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, time.March, 5, 14, 7, 9, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func bufferLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

func newTestStore(t *testing.T, fs *memFS, clk *fakeClock, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithFileSystem(fs), WithClock(clk), WithLogger(quietLogger())}
	s, err := New(testPath, append(base, opts...)...)
	require.NoError(t, err)
	return s
}

// report builds a client report carrying one run record. rev tags the record
// so tests can tell records apart.
func report(state, rev string) *document.Element {
	r := document.NewElement("Report", "client-version", "1.3")
	st := r.SubElement("Statistics", "state", state, "revision", rev)
	st.SubElement("Good").SubElement("Package", "name", "openssh")
	return r
}

func revisions(n Node) []string {
	out := make([]string, 0, len(n.Records))
	for _, r := range n.Records {
		out = append(out, r.elem.Get("revision"))
	}
	return out
}

func mustNode(t *testing.T, s *Store, client string) Node {
	t.Helper()
	n, ok := s.Node(client)
	require.True(t, ok, "node %s missing", client)
	return n
}
