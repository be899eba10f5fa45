// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package control

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRow(phase State, elapsed float64, mainTemp float64) Row {
	return Row{
		Phase:   phase,
		At:      time.Now(),
		Elapsed: elapsed,
		Temps: map[uint8]Datum{
			2: {Value: mainTemp, OK: true},
			3: {},
		},
		Voltage: Datum{Value: 3.0, OK: true},
		Current: Datum{Value: 0.5, OK: true},
	}
}

func TestRecordAppendAndLast(t *testing.T) {
	started := time.Now()
	rec := NewRecord([]uint8{3, 2}, started)

	_, ok := rec.Last()
	assert.False(t, ok)
	assert.Equal(t, 0, rec.Len())

	rec.Append(sampleRow(Warmup, 1.0, 21.5))
	rec.Append(sampleRow(Running, 2.0, 22.1))

	assert.Equal(t, 2, rec.Len())
	last, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, Running, last.Phase)
	assert.Equal(t, 22.1, last.Temps[2].Value)
	assert.Equal(t, started, rec.Started())
	assert.Equal(t, []uint8{3, 2}, rec.Channels())
}

func TestRecordRowsAreCopies(t *testing.T) {
	rec := NewRecord([]uint8{2}, time.Now())
	rec.Append(sampleRow(Running, 1.0, 30.0))

	rows := rec.Rows()
	rows[0].Temps[2] = Datum{Value: -99, OK: true}
	rows[0].Voltage = Datum{}

	again := rec.Rows()
	assert.Equal(t, 30.0, again[0].Temps[2].Value)
	assert.True(t, again[0].Voltage.OK)
}

func TestRecordSeries(t *testing.T) {
	rec := NewRecord([]uint8{3, 2}, time.Now())
	rec.Append(sampleRow(Running, 1.0, 20.0))
	rec.Append(sampleRow(Running, 2.0, 21.0))

	series := rec.Series(2)
	require.Len(t, series, 2)
	assert.Equal(t, Datum{Value: 20.0, OK: true}, series[0])
	assert.Equal(t, Datum{Value: 21.0, OK: true}, series[1])

	// Channel 3 never produced data; markers are explicit
	for _, d := range rec.Series(3) {
		assert.False(t, d.OK)
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	started := time.Date(2026, 2, 11, 9, 30, 0, 0, time.UTC)
	rec := NewRecord([]uint8{3, 2}, started)
	rec.Append(sampleRow(Warmup, 1.0, 19.5))
	rec.Append(sampleRow(Running, 2.0, 20.5))

	var buf bytes.Buffer
	require.NoError(t, rec.WriteArchive(&buf))

	got, err := ReadArchive(&buf)
	require.NoError(t, err)
	assert.Equal(t, []uint8{3, 2}, got.Channels())
	assert.True(t, got.Started().Equal(started))
	require.Equal(t, 2, got.Len())

	rows := got.Rows()
	assert.Equal(t, Warmup, rows[0].Phase)
	assert.Equal(t, Running, rows[1].Phase)
	assert.Equal(t, 20.5, rows[1].Temps[2].Value)
	assert.False(t, rows[1].Temps[3].OK)
	assert.Equal(t, Datum{Value: 3.0, OK: true}, rows[1].Voltage)
}

func TestReadArchiveGarbage(t *testing.T) {
	_, err := ReadArchive(bytes.NewReader([]byte{0xff, 0x00, 0x13}))
	assert.Error(t, err)
}
