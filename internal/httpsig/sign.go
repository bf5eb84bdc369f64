// Package httpsig implements the HTTP Signature scheme as defined in draft-cavage-http-signatures-10.
// Verification of inbound requests is handled by github.com/go-fed/httpsig, this package
// signs outbound requests and checks the Digest header.
package httpsig

import (
	"bytes"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
)

const (
	// RequestTarget is the pseudo-header used to sign the request target.
	RequestTarget = "(request-target)"
)

// Sign signs the request using the given keyID and privateKey.
func Sign(req *http.Request, keyID string, privateKey crypto.PrivateKey, body []byte) error {
	req.Header.Set("Date", time.Now().UTC().Format("Mon, 02 Jan 2006 15:04:05 GMT")) // Date must be in GMT, not UTC 🤯
	headersToSign := []string{
		RequestTarget,
	}
	switch req.Method {
	case "GET":
		headersToSign = append(headersToSign, "host", "date", "accept")
	case "POST":
		headersToSign = append(headersToSign, "host", "date", "digest")
		req.Header.Set("Digest", Digest(body))
	}

	var sb bytes.Buffer
	for _, header := range headersToSign {
		switch header {
		case httpsig.RequestTarget:
			sb.WriteString("(request-target): ")
			sb.WriteString(strings.ToLower(req.Method))
			sb.WriteString(" ")
			sb.WriteString(req.URL.Path)

			if req.URL.RawQuery != "" {
				sb.WriteString("?")
				sb.WriteString(req.URL.RawQuery)
			}
		case "Host", "host":
			sb.WriteString("host: ")
			sb.WriteString(req.Host)
		case "Date", "date":
			sb.WriteString("date: ")
			sb.WriteString(req.Header.Get("Date"))
		case "Accept", "accept":
			sb.WriteString("accept: ")
			sb.WriteString(req.Header.Get("Accept"))
		case "Digest", "digest":
			sb.WriteString("digest: ")
			sb.WriteString(req.Header.Get("Digest"))
		default:
			return fmt.Errorf("unknown header to sign: %s", header)
		}
		sb.WriteString("\n")
	}
	hash := sha256.New()
	hash.Write(bytes.TrimRight(sb.Bytes(), "\n")) // remove trailing newline
	digest := hash.Sum(nil)

	sig, err := rsa.SignPKCS1v15(rand.Reader, privateKey.(*rsa.PrivateKey), crypto.SHA256, digest)
	if err != nil {
		return err
	}
	enc := base64.StdEncoding.EncodeToString(sig)
	req.Header.Set("Signature", fmt.Sprintf(`keyId="%s",algorithm="rsa-sha256",headers="%s",signature="%s"`, keyID, strings.Join(headersToSign, " "), enc))
	return nil
}

// Digest returns the value of the Digest header for body.
func Digest(body []byte) string {
	digest := sha256.Sum256(body)
	return "SHA-256=" + base64.StdEncoding.EncodeToString(digest[:])
}

// VerifyDigest checks that the Digest header of req matches body.
func VerifyDigest(req *http.Request, body []byte) error {
	got := req.Header.Get("Digest")
	if got == "" {
		return errors.New("Digest header is missing")
	}
	if got != Digest(body) {
		return fmt.Errorf("digest mismatch: %s", got)
	}
	return nil
}

// RequiredHeaders are the headers an inbound POST must have signed.
var RequiredHeaders = []string{RequestTarget, "host", "date", "digest"}

// SignedHeaders returns the list of headers covered by the Signature header.
func SignedHeaders(req *http.Request) []string {
	for _, part := range strings.Split(req.Header.Get("Signature"), ",") {
		k, v, ok := strings.Cut(part, "=")
		if ok && strings.TrimSpace(k) == "headers" {
			return strings.Fields(strings.Trim(v, `"`))
		}
	}
	return nil
}

// CoversRequired reports whether every required header is signed.
func CoversRequired(req *http.Request) error {
	signed := map[string]bool{}
	for _, h := range SignedHeaders(req) {
		signed[strings.ToLower(h)] = true
	}
	for _, h := range RequiredHeaders {
		if !signed[h] {
			return fmt.Errorf("header %q is not signed", h)
		}
	}
	return nil
}
