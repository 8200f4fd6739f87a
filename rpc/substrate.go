package rpc

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	MethodRuntimeVersion   = "state_getRuntimeVersion"
	MethodMetadata         = "state_getMetadata"
	MethodBlockHash        = "chain_getBlockHash"
	MethodFinalizedHead    = "chain_getFinalizedHead"
	MethodHeader           = "chain_getHeader"
	MethodAccountNextIndex = "system_accountNextIndex"
	MethodSubmitExtrinsic  = "author_submitExtrinsic"
	MethodSubmitAndWatch   = "author_submitAndWatchExtrinsic"
	MethodUnwatchExtrinsic = "author_unwatchExtrinsic"

	NotificationExtrinsicUpdate = "author_extrinsicUpdate"
)

type RuntimeVersion struct {
	SpecName           string `json:"specName"`
	ImplName           string `json:"implName"`
	SpecVersion        uint32 `json:"specVersion"`
	ImplVersion        uint32 `json:"implVersion"`
	TransactionVersion uint32 `json:"transactionVersion"`
}

// Header is the subset of a block header the client reads.
type Header struct {
	ParentHash     string `json:"parentHash"`
	Number         string `json:"number"`
	StateRoot      string `json:"stateRoot"`
	ExtrinsicsRoot string `json:"extrinsicsRoot"`
}

// BlockNumber parses the hex encoded block number.
func (h *Header) BlockNumber() (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimPrefix(h.Number, "0x"), 16, 64)
	if err != nil {
		return 0, transportError("malformed block number %q", h.Number)
	}

	return n, nil
}

func (h *Header) ParentHashBytes() ([]byte, error) {
	return decodeHash(h.ParentHash)
}

func (c *Client) RuntimeVersion(ctx context.Context) (*RuntimeVersion, error) {
	var v RuntimeVersion
	if err := c.Call(ctx, MethodRuntimeVersion, &v); err != nil {
		return nil, err
	}

	return &v, nil
}

// Metadata returns the SCALE encoded runtime metadata.
func (c *Client) Metadata(ctx context.Context) ([]byte, error) {
	var raw string
	if err := c.Call(ctx, MethodMetadata, &raw); err != nil {
		return nil, err
	}

	data, err := hexutil.Decode(raw)
	if err != nil {
		return nil, transportError("malformed metadata: %v", err)
	}

	return data, nil
}

// BlockHash returns the hash of block number. Block 0 is the genesis hash.
func (c *Client) BlockHash(ctx context.Context, number uint64) ([]byte, error) {
	var raw *string
	if err := c.Call(ctx, MethodBlockHash, &raw, number); err != nil {
		return nil, err
	}

	if raw == nil {
		return nil, transportError("no block %d", number)
	}

	return decodeHash(*raw)
}

func (c *Client) FinalizedHead(ctx context.Context) ([]byte, error) {
	var raw string
	if err := c.Call(ctx, MethodFinalizedHead, &raw); err != nil {
		return nil, err
	}

	return decodeHash(raw)
}

// Header returns the header of the block with hash, or of the best block
// when hash is nil.
func (c *Client) Header(ctx context.Context, hash []byte) (*Header, error) {
	var params []any
	if hash != nil {
		params = append(params, hexutil.Encode(hash))
	}

	var h *Header
	if err := c.Call(ctx, MethodHeader, &h, params...); err != nil {
		return nil, err
	}

	if h == nil {
		return nil, transportError("no header for %x", hash)
	}

	return h, nil
}

// AccountNextIndex returns the next nonce of an account, pending pool
// transactions included.
func (c *Client) AccountNextIndex(ctx context.Context, address string) (uint32, error) {
	var nonce uint32
	if err := c.Call(ctx, MethodAccountNextIndex, &nonce, address); err != nil {
		return 0, err
	}

	return nonce, nil
}

// SubmitExtrinsic submits without watching and returns the extrinsic hash.
func (c *Client) SubmitExtrinsic(ctx context.Context, extrinsic []byte) ([]byte, error) {
	var raw string
	if err := c.Call(ctx, MethodSubmitExtrinsic, &raw, hexutil.Encode(extrinsic)); err != nil {
		return nil, err
	}

	return decodeHash(raw)
}

// SubmitAndWatchExtrinsic submits an extrinsic and subscribes to its
// transaction status updates.
func (c *Client) SubmitAndWatchExtrinsic(ctx context.Context, extrinsic []byte) (*Subscription, error) {
	return c.Subscribe(ctx, MethodSubmitAndWatch, MethodUnwatchExtrinsic, hexutil.Encode(extrinsic))
}

func decodeHash(raw string) ([]byte, error) {
	b, err := hexutil.Decode(raw)
	if err != nil {
		return nil, transportError("malformed hash %q: %v", raw, err)
	}

	if len(b) != 32 {
		return nil, transportError("hash %q is %d bytes", raw, len(b))
	}

	return b, nil
}
