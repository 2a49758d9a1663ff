package payload

import (
	"crypto/sha1"
	"encoding/base64"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// WeakETag returns a weak validator made of the length of the body and
// its SHA-1 digest, W/"<hex length>-<base64 digest>", with the digest
// truncated to 27 characters.
func WeakETag(b []byte) string {
	sum := sha1.Sum(b)
	digest := base64.StdEncoding.EncodeToString(sum[:])[:27]
	return `W/"` + strconv.FormatInt(int64(len(b)), 16) + "-" + digest + `"`
}

// HashETag returns a strong validator from the xxhash of the body.
func HashETag(b []byte) string {
	return `"` + strconv.FormatUint(xxhash.Sum64(b), 16) + `"`
}
