// Package registry provides typed, failure-absorbing reads over the on-chain
// identity and reputation registries.
package registry

import (
	"context"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/scrypster/agentindex/pkg/types"
)

// DefaultConcurrency is the batch width used by ScanRange when none is given.
const DefaultConcurrency = 5

// Transport is the capability set the reader needs from the chain.
// chain.Client implements it.
type Transport interface {
	OwnerOf(ctx context.Context, agentID uint64) (string, error)
	TokenURI(ctx context.Context, agentID uint64) (string, error)
	WalletOf(ctx context.Context, agentID uint64) (string, error)
	ReputationSummary(ctx context.Context, agentID uint64) (*types.ReputationSummary, error)
	Registrations(ctx context.Context, from, to uint64) ([]types.RegistrationEvent, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Reader wraps a Transport. Identity and reputation reads never fail; event
// scans do.
type Reader struct {
	transport Transport
}

// NewReader creates a Reader over t.
func NewReader(t Transport) *Reader {
	return &Reader{transport: t}
}

// GetIdentity reads owner, wallet and URI for agentID. An unreadable owner
// (unminted id, revert, network failure) yields Exists=false. Wallet and URI
// failures after a good owner read degrade to empty strings.
func (r *Reader) GetIdentity(ctx context.Context, agentID uint64) types.OnChainIdentity {
	missing := types.OnChainIdentity{AgentID: agentID}

	owner, err := r.transport.OwnerOf(ctx, agentID)
	if err != nil || owner == "" {
		return missing
	}

	id := types.OnChainIdentity{
		AgentID: agentID,
		Owner:   owner,
		Exists:  true,
	}

	if uri, err := r.transport.TokenURI(ctx, agentID); err == nil {
		id.MetadataURI = uri
	} else {
		log.Printf("Registry: tokenURI(%d) failed: %v", agentID, err)
	}

	if wallet, err := r.transport.WalletOf(ctx, agentID); err == nil {
		id.Wallet = wallet
	} else {
		log.Printf("Registry: wallet(%d) failed: %v", agentID, err)
	}

	return id
}

// GetReputation returns the reputation summary for agentID, or nil when it
// cannot be read.
func (r *Reader) GetReputation(ctx context.Context, agentID uint64) *types.ReputationSummary {
	rep, err := r.transport.ReputationSummary(ctx, agentID)
	if err != nil {
		return nil
	}
	return rep
}

// ScanRange reads identities for every id in [from, to]. Ids are read in
// batches of concurrency; batches run one after another and the result is
// ordered by id ascending. Unreadable ids come back as stubs with
// Exists=false.
func (r *Reader) ScanRange(ctx context.Context, from, to uint64, concurrency int) []types.OnChainIdentity {
	if from > to {
		return nil
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	total := to - from + 1
	out := make([]types.OnChainIdentity, total)

	for batchStart := uint64(0); batchStart < total; batchStart += uint64(concurrency) {
		batchEnd := batchStart + uint64(concurrency)
		if batchEnd > total {
			batchEnd = total
		}

		var g errgroup.Group
		for i := batchStart; i < batchEnd; i++ {
			i := i
			g.Go(func() error {
				out[i] = r.GetIdentity(ctx, from+i)
				return nil
			})
		}
		_ = g.Wait()
	}

	return out
}

// ScanEvents returns registrations between fromCheckpoint and toCheckpoint
// inclusive. A nil from starts at block 0; a nil to means the current head.
// Errors propagate: a partial window could silently miss registrations.
func (r *Reader) ScanEvents(ctx context.Context, fromCheckpoint, toCheckpoint *uint64) ([]types.RegistrationEvent, error) {
	var from uint64
	if fromCheckpoint != nil {
		from = *fromCheckpoint
	}

	var to uint64
	if toCheckpoint != nil {
		to = *toCheckpoint
	} else {
		head, err := r.transport.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		to = head
	}

	return r.transport.Registrations(ctx, from, to)
}

// LatestCheckpoint returns the current head block.
func (r *Reader) LatestCheckpoint(ctx context.Context) (uint64, error) {
	return r.transport.BlockNumber(ctx)
}
