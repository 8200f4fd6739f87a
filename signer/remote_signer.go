package signer

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	jsoniter "github.com/json-iterator/go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-substrate-did-sdk/ss58"
)

const DefaultRemoteSignerTimeout = 10 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// RemoteSigner is a signer that signs a payload using a remote API
type RemoteSigner struct {
	endpoint  string
	apiKey    string
	scheme    Scheme
	accountID []byte
	client    *http.Client
}

type remoteSignRequest struct {
	PayloadHex string `json:"payload_hex"`
	Scheme     string `json:"scheme"`
	AccountID  string `json:"account_id"`
}

type remoteSignResponse struct {
	SignatureHex string `json:"signature_hex"`
}

// NewRemoteSigner creates a new RemoteSigner for the account held by the
// remote service.
func NewRemoteSigner(endpoint, apiKey string, scheme Scheme, accountID []byte) (*RemoteSigner, error) {
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("endpoint required")
	}

	if len(accountID) != 32 {
		return nil, fmt.Errorf("account id must be 32 bytes, got %d", len(accountID))
	}

	if scheme > SchemeEcdsa {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, scheme)
	}

	return &RemoteSigner{
		endpoint:  endpoint,
		apiKey:    apiKey,
		scheme:    scheme,
		accountID: append([]byte{}, accountID...),
		client: &http.Client{
			Timeout:   DefaultRemoteSignerTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

// Sign signs a payload using the remote API
func (s *RemoteSigner) Sign(payload []byte) ([]byte, error) {
	return s.SignContext(context.Background(), payload)
}

func (s *RemoteSigner) SignContext(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}

	reqBody, err := json.Marshal(remoteSignRequest{
		PayloadHex: hexutil.Encode(payload),
		Scheme:     strings.ToLower(s.scheme.String()),
		AccountID:  hexutil.Encode(s.accountID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal sign request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create sign request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("x-api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call remote signer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote signer http %d", resp.StatusCode)
	}

	var out remoteSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode remote signer response: %w", err)
	}

	sig, err := hexutil.Decode(ensureHexPrefix(out.SignatureHex))
	if err != nil {
		return nil, fmt.Errorf("invalid signature hex: %w", err)
	}

	if len(sig) != s.scheme.SignatureLength() {
		return nil, fmt.Errorf("invalid signature length %d", len(sig))
	}

	return sig, nil
}

func (s *RemoteSigner) GetAddress() string {
	addr, _ := ss58.Encode(s.accountID, ss58.GenericSubstratePrefix)
	return addr
}

func (s *RemoteSigner) AccountID() []byte {
	return append([]byte{}, s.accountID...)
}

func (s *RemoteSigner) Scheme() Scheme {
	return s.scheme
}

func ensureHexPrefix(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}

	return "0x" + s
}
