package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrCorrupt is returned when a record fails its checksum.
var ErrCorrupt = errors.New("corrupt record")

func maskedCRC(b []byte) uint32 {
	crc := crc32.Checksum(b, castagnoli)
	return ((crc >> 15) | (crc << 17)) + 0xa282ead8
}

// writeRecord frames data as a TFRecord:
// uint64 length, uint32 masked crc of length, data, uint32 masked crc of data.
func writeRecord(w io.Writer, data []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(data)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))

	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(data))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write(footer[:])
	return err
}

// readRecord reads one framed record. It returns io.EOF at a clean end of
// input.
func readRecord(r io.Reader) ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("truncated record header: %w", ErrCorrupt)
		}
		return nil, err
	}
	if binary.LittleEndian.Uint32(header[8:]) != maskedCRC(header[:8]) {
		return nil, fmt.Errorf("length checksum mismatch: %w", ErrCorrupt)
	}
	n := binary.LittleEndian.Uint64(header[:8])

	data := make([]byte, n+4)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("truncated record body: %w", ErrCorrupt)
	}
	body, footer := data[:n], data[n:]
	if binary.LittleEndian.Uint32(footer) != maskedCRC(body) {
		return nil, fmt.Errorf("data checksum mismatch: %w", ErrCorrupt)
	}
	return body, nil
}
