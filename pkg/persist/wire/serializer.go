// Copyright checkpointcore authors.
//
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the tagged, length-prefixed snapshot stream
// (spec.md §6.1): a ChildList is walked once per checkpoint and
// emitted as a sequence of `uint32 tag | uint32 length | payload`
// records, with dataspace content travelling out-of-band in a side
// table of attachments. encoding/gob supplies the payload codec; see
// DESIGN.md for why this stands in for the wire protocol a real
// transport would generate from an IDL.
package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	persistapi "github.com/corerun/checkpointcore/pkg/persist/api"
	"github.com/sirupsen/logrus"
)

var log = logrus.WithField("source", "persist/wire")

// tag identifies the shape of one record's payload.
type tag uint32

const (
	tagChildList tag = iota + 1
	tagAttachmentTable
)

// Attachment is one entry of the side table: a dataspace content blob
// referenced by a record's AttachmentIndex (spec.md §6.1's
// AttachmentRef).
type Attachment struct {
	Size  uint64
	Bytes []byte
}

// Serialize renders children into the wire format and returns the
// concatenated byte stream along with its length, matching the
// `serialize(children, include_binary) -> (bytes, size)` entry point
// of spec.md §4.8. Dataspace content is included only when
// includeBinary is true; otherwise the attachment table is written
// empty. AttachmentIndex values inside children are written as given
// (Checkpoint leaves them at -1 when includeBinary is false).
func Serialize(children *persistapi.ChildList, attachments []Attachment, includeBinary bool) ([]byte, int, error) {
	if !includeBinary {
		attachments = nil
	}

	var buf bytes.Buffer
	if err := writeRecord(&buf, tagChildList, children); err != nil {
		return nil, 0, fmt.Errorf("encoding child list: %w", err)
	}
	if err := writeRecord(&buf, tagAttachmentTable, attachments); err != nil {
		return nil, 0, fmt.Errorf("encoding attachment table: %w", err)
	}

	log.WithFields(logrus.Fields{
		"children":    len(children.Children),
		"attachments": len(attachments),
	}).Debug("serialized stored-info graph")

	return buf.Bytes(), buf.Len(), nil
}

// Parse reads back a stream produced by Serialize.
func Parse(data []byte) (*persistapi.ChildList, []Attachment, error) {
	r := bytes.NewReader(data)

	children := &persistapi.ChildList{}
	if err := readRecord(r, tagChildList, children); err != nil {
		return nil, nil, fmt.Errorf("decoding child list: %w", err)
	}

	var attachments []Attachment
	if err := readRecord(r, tagAttachmentTable, &attachments); err != nil {
		return nil, nil, fmt.Errorf("decoding attachment table: %w", err)
	}

	return children, attachments, nil
}

func writeRecord(w io.Writer, t tag, v any) error {
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(v); err != nil {
		return err
	}

	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(t))
	binary.BigEndian.PutUint32(header[4:8], uint32(payload.Len()))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload.Bytes())
	return err
}

func readRecord(r io.Reader, want tag, out any) error {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	got := tag(binary.BigEndian.Uint32(header[0:4]))
	length := binary.BigEndian.Uint32(header[4:8])
	if got != want {
		return fmt.Errorf("unexpected record tag %d, want %d", got, want)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(out)
}
