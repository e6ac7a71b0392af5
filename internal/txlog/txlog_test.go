package txlog

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestAppendAndIterateOrder(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, l.Append(Put, []byte("a"), []byte("1")))
	require.NoError(t, l.Append(Del, []byte("b"), nil))
	require.NoError(t, l.Append(Commit, nil, nil))

	entries, err := l.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	require.Equal(t, Put, entries[0].Type)
	require.Equal(t, []byte("a"), entries[0].Key)
	require.Equal(t, []byte("1"), entries[0].Value)

	require.Equal(t, Del, entries[1].Type)
	require.Equal(t, []byte("b"), entries[1].Key)

	require.Equal(t, Commit, entries[2].Type)
}

func TestOpenResumesNextID(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Append(Put, []byte("a"), []byte("1")))
	require.NoError(t, l.Append(Commit, nil, nil))

	l2, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, l2.Append(Abort, nil, nil))

	entries, err := l2.All()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	require.Equal(t, 2, entries[2].ID)
}

func TestClearResetsLog(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, l.Append(Put, []byte("a"), []byte("1")))

	require.NoError(t, l.Clear())

	entries, err := l.All()
	require.NoError(t, err)
	require.Len(t, entries, 0)

	require.NoError(t, l.Append(Commit, nil, nil))
	entries, err = l.All()
	require.NoError(t, err)
	require.Equal(t, 0, entries[0].ID)
}

func TestRecoveredEntriesMatchWhatWasAppended(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, l.Append(Put, []byte("a"), []byte("1")))
	require.NoError(t, l.Append(Put, []byte("b"), []byte("2")))
	require.NoError(t, l.Append(Commit, nil, nil))

	reopened, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)
	entries, err := reopened.All()
	require.NoError(t, err)

	want := []Entry{
		{Key: []byte("a"), Value: []byte("1"), Type: Put, ID: 0},
		{Key: []byte("b"), Value: []byte("2"), Type: Put, ID: 1},
		{Type: Commit, ID: 2},
	}
	if diff := cmp.Diff(want, entries); diff != "" {
		t.Fatalf("replayed entries differ from what was appended (-want +got):\n%s", diff)
	}
}

func TestAppendRejectsInvalidType(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, zerolog.Nop())
	require.NoError(t, err)

	err = l.Append(Type(99), nil, nil)
	require.Error(t, err)
}
