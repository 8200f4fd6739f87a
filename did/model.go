package did

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StatusKind is the kind of a transaction pool status update.
type StatusKind string

const (
	StatusFuture          StatusKind = "future"
	StatusReady           StatusKind = "ready"
	StatusBroadcast       StatusKind = "broadcast"
	StatusInBlock         StatusKind = "inBlock"
	StatusRetracted       StatusKind = "retracted"
	StatusFinalityTimeout StatusKind = "finalityTimeout"
	StatusFinalized       StatusKind = "finalized"
	StatusUsurped         StatusKind = "usurped"
	StatusDropped         StatusKind = "dropped"
	StatusInvalid         StatusKind = "invalid"
)

// ErrUnknownStatus is returned for updates that match no known kind.
var ErrUnknownStatus = errors.New("unknown extrinsic status")

// ExtrinsicStatus is one author_extrinsicUpdate notification.
type ExtrinsicStatus struct {
	Kind StatusKind `json:"kind"`
	// Hash is the block hash of inBlock, retracted, finalityTimeout and
	// finalized updates, or the replacing extrinsic of usurped.
	Hash string `json:"hash,omitempty"`
	// Peers lists the peers of a broadcast update.
	Peers []string `json:"peers,omitempty"`
}

// Included reports whether the status resolves a submission successfully.
func (s ExtrinsicStatus) Included() bool {
	return s.Kind == StatusInBlock || s.Kind == StatusFinalized
}

// Rejected reports whether the chain gave up on the extrinsic.
func (s ExtrinsicStatus) Rejected() bool {
	switch s.Kind {
	case StatusDropped, StatusInvalid, StatusUsurped, StatusFinalityTimeout:
		return true
	default:
		return false
	}
}

// ParseExtrinsicStatus parses the result of a status notification. Unit
// kinds arrive as bare strings, the others as single key objects.
func ParseExtrinsicStatus(raw []byte) (ExtrinsicStatus, error) {
	var kind string
	if err := json.Unmarshal(raw, &kind); err == nil {
		switch StatusKind(kind) {
		case StatusFuture, StatusReady, StatusDropped, StatusInvalid:
			return ExtrinsicStatus{Kind: StatusKind(kind)}, nil
		default:
			return ExtrinsicStatus{}, fmt.Errorf("%w: %q", ErrUnknownStatus, kind)
		}
	}

	var obj map[string]jsoniter.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj) != 1 {
		return ExtrinsicStatus{}, fmt.Errorf("%w: %s", ErrUnknownStatus, string(raw))
	}

	for key, value := range obj {
		status := ExtrinsicStatus{Kind: StatusKind(key)}

		switch status.Kind {
		case StatusBroadcast:
			if err := json.Unmarshal(value, &status.Peers); err != nil {
				return ExtrinsicStatus{}, fmt.Errorf("failed to parse broadcast peers: %w", err)
			}
		case StatusInBlock, StatusRetracted, StatusFinalityTimeout, StatusFinalized, StatusUsurped:
			if err := json.Unmarshal(value, &status.Hash); err != nil {
				return ExtrinsicStatus{}, fmt.Errorf("failed to parse %s hash: %w", key, err)
			}
		default:
			return ExtrinsicStatus{}, fmt.Errorf("%w: %q", ErrUnknownStatus, key)
		}

		return status, nil
	}

	return ExtrinsicStatus{}, fmt.Errorf("%w: %s", ErrUnknownStatus, string(raw))
}

// ChainRejectionError reports a submission the chain dropped, invalidated,
// replaced or failed to finalize.
type ChainRejectionError struct {
	Status ExtrinsicStatus
}

func (e *ChainRejectionError) Error() string {
	if e.Status.Hash != "" {
		return fmt.Sprintf("extrinsic rejected by chain: %s %s", e.Status.Kind, e.Status.Hash)
	}

	return fmt.Sprintf("extrinsic rejected by chain: %s", e.Status.Kind)
}

// SubmitResult describes an included extrinsic.
type SubmitResult struct {
	// BlockHash is the hash of the block that included the extrinsic.
	BlockHash string `json:"blockHash"`
	// ExtrinsicHash is the blake2b-256 hash of the submitted bytes.
	ExtrinsicHash string `json:"extrinsicHash"`
	// Status is the update that resolved the submission.
	Status StatusKind `json:"status"`
	// Sender is the SS58 address of the signer.
	Sender string `json:"sender"`
	Nonce  uint32 `json:"nonce"`
	// EraStart and EraPeriod describe the mortality window; zero period
	// means immortal.
	EraStart  uint64 `json:"eraStart"`
	EraPeriod uint64 `json:"eraPeriod"`
}
