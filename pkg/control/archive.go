// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Tangzhuhan

package control

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// archiveDocument is the on-disk shape of a run record
type archiveDocument struct {
	Version  int       `cbor:"version"`
	Started  time.Time `cbor:"started"`
	Channels []uint8   `cbor:"channels"`
	Rows     []Row     `cbor:"rows"`
}

const archiveVersion = 1

// WriteArchive serializes the record as a CBOR document
func (r *Record) WriteArchive(w io.Writer) error {
	doc := archiveDocument{
		Version:  archiveVersion,
		Started:  r.Started(),
		Channels: r.Channels(),
		Rows:     r.Rows(),
	}
	data, err := cbor.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	return nil
}

// WriteArchiveFile writes the CBOR document to path
func (r *Record) WriteArchiveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive %s: %w", path, err)
	}
	defer f.Close()

	if err := r.WriteArchive(f); err != nil {
		return err
	}
	return f.Close()
}

// ReadArchive decodes a CBOR run document back into a Record
func ReadArchive(rd io.Reader) (*Record, error) {
	data, err := io.ReadAll(rd)
	if err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}

	var doc archiveDocument
	if err := cbor.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode archive: %w", err)
	}
	if doc.Version != archiveVersion {
		return nil, fmt.Errorf("unsupported archive version %d", doc.Version)
	}

	rec := NewRecord(doc.Channels, doc.Started)
	for _, row := range doc.Rows {
		rec.Append(row)
	}
	return rec, nil
}
