package gameworld

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// DecodeDataset reads a tile dataset. Both plain JSON arrays and
// gzip-compressed ones are accepted; the format is sniffed from the first
// bytes.
func DecodeDataset(r io.Reader) ([]Tile, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "peeking dataset header")
	}

	var src io.Reader = br
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "opening gzip dataset")
		}
		defer zr.Close()
		src = zr
	}

	var tiles []Tile
	if err := json.NewDecoder(src).Decode(&tiles); err != nil {
		return nil, errors.Wrap(err, "decoding dataset")
	}
	return tiles, nil
}

// EncodeDataset writes tiles as a gzip-compressed JSON array, the format
// datasets are published in.
func EncodeDataset(w io.Writer, tiles []Tile) error {
	zw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return errors.Wrap(err, "creating gzip writer")
	}
	if tiles == nil {
		tiles = []Tile{}
	}
	if err := json.NewEncoder(zw).Encode(tiles); err != nil {
		zw.Close()
		return errors.Wrap(err, "encoding dataset")
	}
	return errors.Wrap(zw.Close(), "finishing gzip stream")
}
