package fetch

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/AgentOS/webfetch/internal/providers/webfetch/fetcherr"
)

// readBody decodes the content encoding and reads at most limit bytes of
// the decoded stream. exceeded reports that more data was available; the
// returned body then holds exactly limit bytes.
func readBody(r io.Reader, encoding string, limit int64) (body []byte, exceeded bool, err error) {
	dec, closeFn, err := decoder(r, encoding)
	if err != nil {
		return nil, false, err
	}
	defer closeFn()

	body, err = io.ReadAll(io.LimitReader(dec, limit+1))
	if err != nil {
		return nil, false, err
	}
	if int64(len(body)) > limit {
		return body[:limit], true, nil
	}
	return body, false, nil
}

func decoder(r io.Reader, encoding string) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return r, noop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return zr, func() { zr.Close() }, nil
	case "deflate":
		br := bufio.NewReader(r)
		if isZlibHeader(br) {
			zr, err := zlib.NewReader(br)
			if err != nil {
				return nil, noop, err
			}
			return zr, func() { zr.Close() }, nil
		}
		fr := flate.NewReader(br)
		return fr, func() { fr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, noop, err
		}
		return zr, zr.Close, nil
	default:
		return nil, noop, fetcherr.New(fetcherr.UnsupportedContentType,
			"unsupported content encoding %q", encoding).
			With("content_encoding", encoding)
	}
}

// isZlibHeader reports whether the stream starts with an RFC 1950 header.
// Some servers send raw deflate under the same label.
func isZlibHeader(br *bufio.Reader) bool {
	b, err := br.Peek(2)
	if err != nil {
		return false
	}
	return b[0]&0x0f == 8 && (uint16(b[0])<<8|uint16(b[1]))%31 == 0
}

func tooLarge(limit int64) *fetcherr.Error {
	return fetcherr.New(fetcherr.ResponseTooLarge,
		"response exceeds %d bytes", limit).
		With("limit_bytes", strconv.FormatInt(limit, 10))
}
