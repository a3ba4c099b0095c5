// Package snapshot encodes the "raw data with thresholds" attached to every metrics check
// result as zstd-compressed JSON.
package snapshot

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/mr-karan/checkchef/pkg/models"
)

// Codec compresses and decompresses snapshots. It is safe for concurrent use; the
// underlying zstd encoder and decoder are only used through their stateless EncodeAll
// and DecodeAll methods.
type Codec struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a codec. Level maps 1..4 onto zstd's fastest..best presets; anything
// else uses the default.
func NewCodec(level int) (*Codec, error) {
	encLevel := zstd.SpeedDefault
	switch level {
	case 1:
		encLevel = zstd.SpeedFastest
	case 3:
		encLevel = zstd.SpeedBetterCompression
	case 4:
		encLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	return &Codec{encoder: encoder, decoder: decoder}, nil
}

// Encode serializes and compresses series. An empty set encodes to nil.
func (c *Codec) Encode(series []models.TimeSeries) ([]byte, error) {
	if len(series) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(series)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return c.encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode reverses Encode.
func (c *Codec) Decode(data []byte) ([]models.TimeSeries, error) {
	if len(data) == 0 {
		return nil, nil
	}
	raw, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
	}
	var series []models.TimeSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return series, nil
}

// Close releases the decoder's resources.
func (c *Codec) Close() {
	c.decoder.Close()
	_ = c.encoder.Close()
}
