package trace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadow/shadow-sub012/event"
	"github.com/shadow/shadow-sub012/vtime"
)

func TestMemoryRecorderAppendsInOrder(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Record(Record{Host: 1, Time: vtime.SimulationTime(10), Kind: "dispatch"}))
	require.NoError(t, m.Record(Record{Host: 2, Time: vtime.SimulationTime(20), Kind: "drop"}))
	require.Equal(t, []Record{
		{Host: 1, Time: vtime.SimulationTime(10), Kind: "dispatch"},
		{Host: 2, Time: vtime.SimulationTime(20), Kind: "drop"},
	}, m.Records)
	require.NoError(t, m.Close())
}

func TestCSVRecorderWritesHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.csv")

	c, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, c.Record(Record{Host: event.HostId(3), Time: vtime.SimulationTime(100), Kind: "timer_fire"}))
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "host,time,kind\n3,100,timer_fire\n", string(data))
}

func TestCSVRecorderTruncatesExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.csv")
	require.NoError(t, os.WriteFile(path, []byte("stale content\n"), 0o644))

	c, err := NewCSV(path)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "host,time,kind\n", string(data))
}

func TestSQLiteRecorderInsertsAndCounts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.db")

	s, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Record(Record{Host: 1, Time: vtime.SimulationTime(1), Kind: "a"}))
	require.NoError(t, s.Record(Record{Host: 1, Time: vtime.SimulationTime(2), Kind: "b"}))

	row := s.db.QueryRow("select count(*) from trace")
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 2, count)

	require.NoError(t, s.Close())
}

func TestSQLiteRecorderReopenKeepsSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "trace.db")

	s1, err := NewSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s1.Record(Record{Host: 1, Time: vtime.SimulationTime(1), Kind: "a"}))
	require.NoError(t, s1.Close())

	s2, err := NewSQLite(path)
	require.NoError(t, err)
	defer s2.Close()

	row := s2.db.QueryRow("select count(*) from trace")
	var count int
	require.NoError(t, row.Scan(&count))
	require.Equal(t, 1, count)
}
