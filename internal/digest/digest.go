// Package digest computes RFC 2617 "unqualified" HTTP Digest
// challenge/response values for an RTSP method+URI, grounded on the
// reference client's rtspClientAddAuthenticationFields.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

// DefaultUsername and DefaultPassword match the reference source's
// hard-coded credentials, used when the CLI's -c flag supplies no password
// (see SPEC_FULL.md §4.5's resolution of the "password never threaded
// through" open question).
const (
	DefaultUsername = "iTunes"
	DefaultPassword = "geheim"
)

// Challenge is a WWW-Authenticate Digest challenge as received in a 401 response.
type Challenge struct {
	Realm string
	Nonce string
}

// Response computes the Authorization header value for method+uri against
// challenge, using username/password. The three MD5 hashes are hex-encoded
// upper-case, matching the reference's manual hex formatting.
func Response(method, uri string, challenge Challenge, username, password string) string {
	ha1 := md5Hex(username + ":" + challenge.Realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)
	response := md5Hex(ha1 + ":" + challenge.Nonce + ":" + ha2)

	return fmt.Sprintf(
		`Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		username, challenge.Realm, challenge.Nonce, uri, response,
	)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}
