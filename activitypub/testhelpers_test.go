package activitypub

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/deemkeen/solopub/util"
)

// TestKeyPair holds a test RSA key pair
type TestKeyPair struct {
	PrivateKey *rsa.PrivateKey
	PrivatePEM string
	PublicPEM  string
}

// GenerateTestKeyPair creates a 2048-bit RSA key pair, enough for test runs
// without the cost of the production key size.
func GenerateTestKeyPair(t *testing.T) *TestKeyPair {
	t.Helper()

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	privatePEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	publicKeyBytes, err := x509.MarshalPKIXPublicKey(&privateKey.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: publicKeyBytes,
	})

	return &TestKeyPair{
		PrivateKey: privateKey,
		PrivatePEM: string(privatePEM),
		PublicPEM:  string(publicPEM),
	}
}

// newTestKeys wraps a generated pair in the actor identity type.
func newTestKeys(t *testing.T, pair *TestKeyPair) *Keys {
	t.Helper()
	keys, err := NewKeysFromPEM(pair.PrivatePEM, pair.PublicPEM)
	if err != nil {
		t.Fatalf("failed to build keys: %v", err)
	}
	return keys
}

// newTestConf returns the config of the local test actor alice@example.com.
func newTestConf() *util.AppConfig {
	conf := &util.AppConfig{}
	conf.Conf.Host = "localhost"
	conf.Conf.HttpPort = 8080
	conf.Conf.SslDomain = "example.com"
	conf.Conf.Username = "alice"
	conf.Conf.DisplayName = "Alice"
	conf.Conf.Summary = "test actor"
	conf.Conf.Secret = "test-secret"
	conf.Conf.DeliveryWorkers = 2
	return conf
}

// MockHTTPClient is a mock HTTP client for testing
type MockHTTPClient struct {
	// Bodies maps request URL to a JSON body; a fresh 200 response is built
	// per call so the same URL can be fetched repeatedly
	Bodies map[string]string
	// Responses maps request URL to a one-shot response
	Responses map[string]*http.Response
	// Errors maps request URL to error
	Errors map[string]error
	// Requests stores all received requests
	Requests []*http.Request
	// DefaultResponse is returned when no specific response is configured
	DefaultResponse *http.Response
	// DefaultError is returned when no specific error is configured
	DefaultError error
}

func NewMockHTTPClient() *MockHTTPClient {
	return &MockHTTPClient{
		Bodies:    make(map[string]string),
		Responses: make(map[string]*http.Response),
		Errors:    make(map[string]error),
		Requests:  []*http.Request{},
	}
}

// Do implements the HTTPClient interface
func (c *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	c.Requests = append(c.Requests, req)

	url := req.URL.String()

	if err, ok := c.Errors[url]; ok {
		return nil, err
	}
	if body, ok := c.Bodies[url]; ok {
		return jsonResponse(200, body), nil
	}
	if resp, ok := c.Responses[url]; ok {
		return resp, nil
	}
	if c.DefaultError != nil {
		return nil, c.DefaultError
	}
	if c.DefaultResponse != nil {
		return c.DefaultResponse, nil
	}

	return jsonResponse(404, "{}"), nil
}

// SetActorResponse configures the client to answer an actor fetch for
// actorURI with a minimal valid actor document using the given public key.
func (c *MockHTTPClient) SetActorResponse(actorURI, inboxURI, publicKeyPem string) {
	doc := map[string]interface{}{
		"@context":          "https://www.w3.org/ns/activitystreams",
		"id":                actorURI,
		"type":              "Person",
		"preferredUsername": "bob",
		"inbox":             inboxURI,
		"outbox":            actorURI + "/outbox",
		"publicKey": map[string]interface{}{
			"id":           actorURI + "#main-key",
			"owner":        actorURI,
			"publicKeyPem": publicKeyPem,
		},
	}
	body, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("failed to marshal actor doc: %v", err))
	}
	c.Bodies[actorURI] = string(body)
}

// jsonResponse builds an *http.Response with a JSON string body.
func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/activity+json"}},
		Body:       io.NopCloser(bytes.NewReader([]byte(body))),
	}
}
