package version

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kvnallsn/skfs/internal/blockio"
)

func newTestTable(t *testing.T, capacity int) *Table {
	t.Helper()
	dev := blockio.NewMemory(make([]byte, capacity*RecordSize))
	return New(dev, 0, capacity)
}

func TestFindOpenSlotFirstEmpty(t *testing.T) {
	table := newTestTable(t, 4)
	require.NoError(t, table.Put(0, Record{Vcurr: 10}))
	slot, err := table.FindOpenSlot()
	require.NoError(t, err)
	require.Equal(t, 1, slot)
}

func TestInsertRevisionPushesDown(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.InsertRevision(0, 100))
	require.NoError(t, table.InsertRevision(0, 200))
	require.NoError(t, table.InsertRevision(0, 300))
	require.NoError(t, table.InsertRevision(0, 400))

	rec, err := table.Get(0)
	require.NoError(t, err)
	require.Equal(t, Record{Vcurr: 400, V1: 300, V2: 200, V3: 100}, rec)
}

// TestRevertToRevision1 exercises the non-buggy case, which the source and
// this implementation agree on.
func TestRevertToRevision1(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.Put(0, Record{Vcurr: 400, V1: 300, V2: 200, V3: 100}))
	require.NoError(t, table.RevertTo(0, 1))

	rec, err := table.Get(0)
	require.NoError(t, err)
	require.Equal(t, Record{Vcurr: 300, V1: 200, V2: 100, V3: 0}, rec)
}

// TestRevertToRevision2 exercises the path original_source/skinny28.c gets
// wrong via a missing break (case 2 falls into case 1's logic a second
// time). This implementation must promote v2 to current and v3 to v1,
// clearing the rest, without any double-application.
func TestRevertToRevision2(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.Put(0, Record{Vcurr: 400, V1: 300, V2: 200, V3: 100}))
	require.NoError(t, table.RevertTo(0, 2))

	rec, err := table.Get(0)
	require.NoError(t, err)
	require.Equal(t, Record{Vcurr: 200, V1: 100, V2: 0, V3: 0}, rec)
}

// TestRevertToRevision3 exercises the path original_source/skinny28.c
// corrupts outright (it sets v3 = 1 then immediately v3 = 0, and never
// touches v1 or v2). This implementation must promote v3 to current and
// clear every other field.
func TestRevertToRevision3(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.Put(0, Record{Vcurr: 400, V1: 300, V2: 200, V3: 100}))
	require.NoError(t, table.RevertTo(0, 3))

	rec, err := table.Get(0)
	require.NoError(t, err)
	require.Equal(t, Record{Vcurr: 100, V1: 0, V2: 0, V3: 0}, rec)
}

func TestRevertToInvalidRevisionFails(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.Put(0, Record{Vcurr: 1}))
	require.Error(t, table.RevertTo(0, 0))
	require.Error(t, table.RevertTo(0, 4))
}

func TestDeleteClearsSlot(t *testing.T) {
	table := newTestTable(t, 1)
	require.NoError(t, table.Put(0, Record{Vcurr: 1, V1: 2, V2: 3, V3: 4}))
	require.NoError(t, table.Delete(0))
	rec, err := table.Get(0)
	require.NoError(t, err)
	require.True(t, rec.IsEmpty())
}
