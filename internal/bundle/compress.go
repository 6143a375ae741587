package bundle

import (
	"archive/zip"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ZIP method identifiers from APPNOTE 4.4.5
const (
	MethodZstd uint16 = 93
	MethodXZ   uint16 = 95
)

// Compression names a ZIP compression method.
type Compression string

const (
	CompressionStore   Compression = "store"
	CompressionDeflate Compression = "deflate"
	CompressionZstd    Compression = "zstd"
	CompressionXZ      Compression = "xz"
)

// Method returns the ZIP method identifier. The empty value means deflate.
func (c Compression) Method() (uint16, error) {
	switch c {
	case CompressionStore:
		return zip.Store, nil
	case CompressionDeflate, "":
		return zip.Deflate, nil
	case CompressionZstd:
		return MethodZstd, nil
	case CompressionXZ:
		return MethodXZ, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want store, deflate, zstd or xz)", string(c))
	}
}

func registerCompressors(w *zip.Writer) {
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.DefaultCompression)
	})
	w.RegisterCompressor(MethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out)
	})
	w.RegisterCompressor(MethodXZ, func(out io.Writer) (io.WriteCloser, error) {
		return xz.NewWriter(out)
	})
}

func registerDecompressors(r *zip.Reader) {
	r.RegisterDecompressor(zip.Deflate, flate.NewReader)
	r.RegisterDecompressor(MethodZstd, func(in io.Reader) io.ReadCloser {
		dec, err := zstd.NewReader(in)
		if err != nil {
			return errReadCloser{err}
		}
		return dec.IOReadCloser()
	})
	r.RegisterDecompressor(MethodXZ, func(in io.Reader) io.ReadCloser {
		dec, err := xz.NewReader(in)
		if err != nil {
			return errReadCloser{err}
		}
		return io.NopCloser(dec)
	})
}

// errReadCloser reports a decompressor setup failure on first read.
type errReadCloser struct{ err error }

func (e errReadCloser) Read([]byte) (int, error) { return 0, e.err }
func (e errReadCloser) Close() error             { return nil }
