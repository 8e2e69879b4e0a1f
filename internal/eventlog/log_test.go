package eventlog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingOverflowAndClear(t *testing.T) {
	l := New()
	for i := 0; i < 1500; i++ {
		l.Add(Info, "tick", nil)
	}

	entries := l.Read()
	require.Len(t, entries, MaxEntries)

	l.Clear()
	entries = l.Read()
	require.Len(t, entries, 1)
	require.Equal(t, "Logs cleared", entries[0].Message)
}

func TestNewestFirst(t *testing.T) {
	l := New()
	l.Add(Info, "first", nil)
	l.Add(Info, "second", nil)

	entries := l.Read()
	require.Equal(t, "second", entries[0].Message)
	require.Equal(t, "first", entries[1].Message)
}

func TestPublisherInvokedOnAdd(t *testing.T) {
	l := New()
	var got []Entry
	l.SetPublisher(func(e Entry) { got = append(got, e) })

	l.Add(Warning, "low battery", nil)
	require.Len(t, got, 1)
	require.Equal(t, Warning, got[0].Level)
}
