package activitypub

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"code.superseriousbusiness.org/httpsig"
)

// MaxClockSkew is how far an inbound Date header may drift from current time
// before the request is rejected as a possible replay.
const MaxClockSkew = 12 * time.Hour

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/alice#main-key". The body is hashed into
// the Digest header as part of signing.
func SignRequest(req *http.Request, keys *Keys, keyId string, body []byte) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(keys.Private(), keyId, req, body)
}

// Verifier validates the HTTP signature on inbound inbox requests against the
// claimed sender's published key.
type Verifier struct {
	resolver *Resolver
	skew     time.Duration
}

func NewVerifier(resolver *Resolver) *Verifier {
	return &Verifier{resolver: resolver, skew: MaxClockSkew}
}

// Verify checks the Date header, the body Digest, and the Signature header of
// an inbound request. It returns the URI of the verified sending actor.
// A signature that fails against a cached key triggers exactly one forced
// re-fetch of the actor before the failure is final, so rotated keys recover
// without locking a sender out for a cache TTL.
func (v *Verifier) Verify(req *http.Request, body []byte) (string, error) {
	if err := v.checkDate(req); err != nil {
		return "", err
	}
	if err := checkDigest(req, body); err != nil {
		return "", err
	}

	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	// keyId is usually "https://example.com/alice#main-key";
	// the actor document lives at the part before the fragment.
	actorURI := strings.Split(verifier.KeyId(), "#")[0]

	actor, err := v.resolver.Resolve(actorURI)
	if err != nil {
		return "", err
	}

	if err := verifyAgainstKey(verifier, actor.PublicKeyPem); err == nil {
		return actorURI, nil
	}

	// Cached key may be stale after a key rotation: force one re-fetch.
	log.Printf("Verifier: signature failed with cached key for %s, re-fetching actor", actorURI)
	actor, err = v.resolver.Refresh(actorURI)
	if err != nil {
		return "", err
	}

	if err := verifyAgainstKey(verifier, actor.PublicKeyPem); err != nil {
		return "", fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return actorURI, nil
}

func (v *Verifier) checkDate(req *http.Request) error {
	dateHeader := req.Header.Get("Date")
	if dateHeader == "" {
		return fmt.Errorf("%w: missing date header", ErrSignatureInvalid)
	}

	sent, err := http.ParseTime(dateHeader)
	if err != nil {
		return fmt.Errorf("%w: unparseable date header", ErrSignatureInvalid)
	}

	drift := time.Since(sent)
	if drift < 0 {
		drift = -drift
	}
	if drift > v.skew {
		return fmt.Errorf("%w: date header off by %s", ErrClockSkew, drift)
	}

	return nil
}

// checkDigest validates the Digest header (when present) against the actual
// request body.
func checkDigest(req *http.Request, body []byte) error {
	digestHeader := req.Header.Get("Digest")
	if digestHeader == "" {
		return nil
	}

	// RFC 3230 algorithm names are case-insensitive; the encoded hash is not.
	algorithm, value, found := strings.Cut(digestHeader, "=")
	if !found || !strings.EqualFold(algorithm, "SHA-256") {
		return fmt.Errorf("%w: unsupported digest algorithm", ErrSignatureInvalid)
	}

	hash := sha256.Sum256(body)
	if value != base64.StdEncoding.EncodeToString(hash[:]) {
		return fmt.Errorf("%w: digest mismatch", ErrSignatureInvalid)
	}

	return nil
}

func verifyAgainstKey(verifier httpsig.Verifier, publicKeyPem string) error {
	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return err
	}
	return verifier.Verify(rsaPubKey, httpsig.RSA_SHA256)
}
