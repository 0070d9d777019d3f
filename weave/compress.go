package weave

import (
	"sync"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// module images are written once and read many times, favor ratio over speed
var zstdEncoder = sync.OnceValue(func() *zstd.Encoder {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic(err) // only fails on invalid options
	}
	return encoder
})

var zstdDecoder = sync.OnceValue(func() *zstd.Decoder {
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		panic(err) // only fails on invalid options
	}
	return decoder
})

// ZstdCompress compresses data with zstd, appending to dst.
func ZstdCompress(dst, data []byte) []byte {
	return zstdEncoder().EncodeAll(data, dst)
}

// ZstdDecompress decompresses zstd data, appending to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	return zstdDecoder().DecodeAll(data, dst)
}

// SnappyCompress compresses data in the snappy block format using the best s2 snappy compatible encoder.
func SnappyCompress(dst, data []byte) []byte {
	return s2.EncodeSnappyBest(dst, data)
}

// SnappyDecompress decompresses a snappy block.
func SnappyDecompress(dst, data []byte) ([]byte, error) {
	return snappy.Decode(dst, data)
}
