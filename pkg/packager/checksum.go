package packager

import (
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// digester tees entry bytes through the configured hash functions while
// they are written, then finalizes all checksums at once.
type digester struct {
	algos  []Algo
	hashes []hash.Hash
}

func newDigester(algos []Algo) (*digester, error) {
	d := &digester{algos: algos}
	for _, a := range algos {
		switch a {
		case MD5:
			d.hashes = append(d.hashes, md5.New())
		case SHA256:
			d.hashes = append(d.hashes, sha256.New())
		case SHA512:
			d.hashes = append(d.hashes, sha512.New())
		default:
			return nil, fmt.Errorf("unknown checksum algorithm %q", a)
		}
	}
	return d, nil
}

// tee returns w wrapped so every byte also feeds the hashes.
func (d *digester) tee(w io.Writer) io.Writer {
	if len(d.hashes) == 0 {
		return w
	}
	writers := make([]io.Writer, 0, len(d.hashes)+1)
	writers = append(writers, w)
	for _, h := range d.hashes {
		writers = append(writers, h)
	}
	return io.MultiWriter(writers...)
}

// sums finalizes the checksums in the order the algorithms were configured.
func (d *digester) sums() []Checksum {
	out := make([]Checksum, len(d.algos))
	for i, a := range d.algos {
		out[i] = Checksum{Algo: a, Hex: hex.EncodeToString(d.hashes[i].Sum(nil))}
	}
	return out
}
