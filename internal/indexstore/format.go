package indexstore

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"time"

	"bookrag/internal/domain"
)

const (
	formatVersion = 1
	vectorsMagic  = "BRVX"
)

// meta is the JSON half of an artifact. It is written last and acts as the
// commit record: it names the vectors file it belongs to and that file's
// checksum. Metadata without VectorsFile refers to <key>.vectors.
type meta struct {
	FormatVersion int            `json:"format_version"`
	Title         string         `json:"title"`
	ModelName     string         `json:"model_name"`
	Count         int            `json:"count"`
	Dimension     int            `json:"dimension"`
	VectorsCRC32  uint32         `json:"vectors_crc32"`
	VectorsFile   string         `json:"vectors_file,omitempty"`
	SavedAt       time.Time      `json:"saved_at"`
	Chunks        []domain.Chunk `json:"chunks"`
}

type vectorsHeader struct {
	Magic     [4]byte
	Version   uint32
	Count     uint32
	Dimension uint32
}

// writeVectors encodes the matrix as a little-endian float32 block after a
// fixed header and returns the CRC32 of everything written.
func writeVectors(w io.Writer, vectors [][]float32, dim int) (uint32, error) {
	crc := crc32.NewIEEE()
	bw := bufio.NewWriter(io.MultiWriter(w, crc))
	hdr := vectorsHeader{Version: formatVersion, Count: uint32(len(vectors)), Dimension: uint32(dim)}
	copy(hdr.Magic[:], vectorsMagic)
	if err := binary.Write(bw, binary.LittleEndian, hdr); err != nil {
		return 0, err
	}
	var buf [4]byte
	for i, v := range vectors {
		if len(v) != dim {
			return 0, fmt.Errorf("vector %d: %w", i, domain.ErrDimensionMismatch)
		}
		for _, x := range v {
			binary.LittleEndian.PutUint32(buf[:], math.Float32bits(x))
			if _, err := bw.Write(buf[:]); err != nil {
				return 0, err
			}
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return crc.Sum32(), nil
}

// readVectors decodes a matrix written by writeVectors and checks it against
// the expected shape and checksum.
func readVectors(r io.Reader, m meta) ([][]float32, error) {
	crc := crc32.NewIEEE()
	br := io.TeeReader(bufio.NewReader(r), crc)
	var hdr vectorsHeader
	if err := binary.Read(br, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(hdr.Magic[:]) != vectorsMagic {
		return nil, errors.New("bad magic")
	}
	if hdr.Version != formatVersion {
		return nil, fmt.Errorf("unsupported vectors version %d", hdr.Version)
	}
	if int(hdr.Count) != m.Count || int(hdr.Dimension) != m.Dimension {
		return nil, fmt.Errorf("shape %dx%d does not match metadata %dx%d", hdr.Count, hdr.Dimension, m.Count, m.Dimension)
	}

	vectors := make([][]float32, hdr.Count)
	row := make([]byte, 4*int(hdr.Dimension))
	for i := range vectors {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("read row %d: %w", i, err)
		}
		v := make([]float32, hdr.Dimension)
		for j := range v {
			v[j] = math.Float32frombits(binary.LittleEndian.Uint32(row[4*j:]))
		}
		vectors[i] = v
	}
	if n, _ := io.Copy(io.Discard, br); n != 0 {
		return nil, errors.New("trailing bytes after matrix")
	}
	if crc.Sum32() != m.VectorsCRC32 {
		return nil, errors.New("checksum mismatch")
	}
	return vectors, nil
}
