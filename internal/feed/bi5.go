// Package feed implements the client side of the vendor's hourly bi5 tick
// feed: binary decoding, HTTP retrieval with retry/backoff, and the
// availability (freshness) signal.
package feed

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/ulikunitz/xz/lzma"

	"tickstore/internal/domain"
)

// recordSize is the fixed width of one wire tick record: a 32-bit
// millisecond offset, 32-bit raw ask and bid prices, and two 32-bit float
// volumes, all big-endian.
const recordSize = 20

// Decode parses decompressed bi5 bytes into ticks for the given symbol.
// Each record's timestamp is hourStart plus its millisecond offset. Raw
// integer prices are divided by the symbol's price scale; float volumes are
// scaled to integer sizes. Trailing bytes that do not fill a full record are
// dropped silently.
func Decode(data []byte, symbol string, hourStart time.Time) []domain.Tick {
	if len(data) < recordSize {
		return nil
	}

	scale := domain.PriceScale(symbol)
	ticks := make([]domain.Tick, 0, len(data)/recordSize)

	for i := 0; i+recordSize <= len(data); i += recordSize {
		rec := data[i : i+recordSize]
		offsetMs := binary.BigEndian.Uint32(rec[0:4])
		askRaw := binary.BigEndian.Uint32(rec[4:8])
		bidRaw := binary.BigEndian.Uint32(rec[8:12])
		askVol := math.Float32frombits(binary.BigEndian.Uint32(rec[12:16]))
		bidVol := math.Float32frombits(binary.BigEndian.Uint32(rec[16:20]))

		ticks = append(ticks, domain.Tick{
			Time:    hourStart.Add(time.Duration(offsetMs) * time.Millisecond),
			Symbol:  symbol,
			Ask:     float64(askRaw) / scale,
			Bid:     float64(bidRaw) / scale,
			AskSize: domain.VolumeScale(askVol),
			BidSize: domain.VolumeScale(bidVol),
			Source:  SourceName,
		})
	}

	return ticks
}

// SourceName tags rows written by this engine so they can be told apart
// from the live-stream writer's inserts.
const SourceName = "dukascopy"

// DecodeCompressed decompresses an LZMA bi5 blob and decodes the contained
// tick records. A decompression failure is returned to the caller, which
// treats the hour as empty rather than aborting the batch.
func DecodeCompressed(blob []byte, symbol string, hourStart time.Time) ([]domain.Tick, error) {
	if len(blob) == 0 {
		return nil, nil
	}

	r, err := lzma.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("opening lzma stream: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing bi5 blob: %w", err)
	}

	return Decode(data, symbol, hourStart), nil
}
