package downloader

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"

	"github.com/aleister1102/kaismonitor/internal/progress"
)

// chunkGate decides when a chunk event is due: every percentStep percent
// when the size is known, otherwise every threshold bytes.
type chunkGate struct {
	total     int64
	step      int64
	threshold int64
	nextPct   int64
	nextBytes int64
}

func newChunkGate(total int64, percentStep int, thresholdBytes int64) *chunkGate {
	step := int64(percentStep)
	if step <= 0 {
		step = 1
	}
	if thresholdBytes <= 0 {
		thresholdBytes = 1
	}
	return &chunkGate{total: total, step: step, threshold: thresholdBytes, nextPct: step, nextBytes: thresholdBytes}
}

func (g *chunkGate) due(written int64) bool {
	if g.total > 0 {
		pct := written * 100 / g.total
		if pct < g.nextPct {
			return false
		}
		for g.nextPct <= pct {
			g.nextPct += g.step
		}
		return true
	}
	if written < g.nextBytes {
		return false
	}
	g.nextBytes = (written/g.threshold + 1) * g.threshold
	return true
}

type streamResult struct {
	size int64
	sum  string
	head []byte
}

// copyChunks copies src into dst in chunkSize reads while hashing, keeping
// the first bytes for format sniffing.
func copyChunks(dst *os.File, src io.Reader, chunkSize int, gate *chunkGate, reporter progress.Reporter, payload progress.Payload) (streamResult, error) {
	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var res streamResult

	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if _, err := dst.Write(chunk); err != nil {
				return res, err
			}
			hasher.Write(chunk)
			if len(res.head) < len(zipLocalMagic) {
				need := len(zipLocalMagic) - len(res.head)
				if need > n {
					need = n
				}
				res.head = append(res.head, chunk[:need]...)
			}
			res.size += int64(n)
			if gate.due(res.size) {
				reporter.Report(progress.StageDownloadChunk, withFields(payload, progress.Payload{"bytes": res.size}))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return res, readErr
		}
	}

	res.sum = hex.EncodeToString(hasher.Sum(nil))
	return res, nil
}

func withFields(base, extra progress.Payload) progress.Payload {
	out := make(progress.Payload, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
