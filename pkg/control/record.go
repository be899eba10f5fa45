// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package control

import (
	"sync"
	"time"
)

// Datum is one logged value with an explicit no-data marker. Missing reads
// are recorded, not dropped, so every sub-series stays index-aligned with
// the time column.
type Datum struct {
	Value float64 `cbor:"v"`
	OK    bool    `cbor:"ok"`
}

// Row is one tick's worth of samples
type Row struct {
	Phase   State             `cbor:"phase"`
	At      time.Time         `cbor:"at"`
	Elapsed float64           `cbor:"elapsed"` // seconds since run start
	Temps   map[uint8]Datum   `cbor:"temps"`
	Voltage Datum             `cbor:"voltage"`
	Current Datum             `cbor:"current"`
}

// Record is the append-only time series of one run. The control task is the
// sole writer; display and export readers get copies and can never mutate
// the series.
type Record struct {
	mu       sync.RWMutex
	channels []uint8
	rows     []Row
	started  time.Time
}

// NewRecord creates an empty record for the given channels
func NewRecord(channels []uint8, started time.Time) *Record {
	return &Record{
		channels: append([]uint8(nil), channels...),
		started:  started,
	}
}

// Append adds one row. Called once per tick by the control task.
func (r *Record) Append(row Row) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, row)
}

// Len returns the number of rows
func (r *Record) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

// Started returns the run's start time
func (r *Record) Started() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Channels returns a copy of the recorded channel ids
func (r *Record) Channels() []uint8 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]uint8(nil), r.channels...)
}

// Rows returns a deep copy of all rows
func (r *Record) Rows() []Row {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rows := make([]Row, len(r.rows))
	for i, row := range r.rows {
		rows[i] = copyRow(row)
	}
	return rows
}

// Last returns a copy of the most recent row
func (r *Record) Last() (Row, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.rows) == 0 {
		return Row{}, false
	}
	return copyRow(r.rows[len(r.rows)-1]), true
}

// Series returns the temperature sub-series for one channel, index-aligned
// with Rows.
func (r *Record) Series(channel uint8) []Datum {
	r.mu.RLock()
	defer r.mu.RUnlock()
	series := make([]Datum, len(r.rows))
	for i, row := range r.rows {
		series[i] = row.Temps[channel]
	}
	return series
}

func copyRow(row Row) Row {
	temps := make(map[uint8]Datum, len(row.Temps))
	for ch, d := range row.Temps {
		temps[ch] = d
	}
	row.Temps = temps
	return row
}
