package registry

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/agentindex/pkg/types"
)

type fakeTransport struct {
	mu        sync.Mutex
	owners    map[uint64]string
	uris      map[uint64]string
	jitter    time.Duration
	failURI   bool
	head      uint64
	headErr   error
	events    []types.RegistrationEvent
	eventsErr error
	calls     [][2]uint64

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeTransport) OwnerOf(ctx context.Context, id uint64) (string, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.jitter > 0 {
		time.Sleep(time.Duration(rand.Int63n(int64(f.jitter))))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	owner, ok := f.owners[id]
	if !ok {
		return "", errors.New("execution reverted")
	}
	return owner, nil
}

func (f *fakeTransport) TokenURI(ctx context.Context, id uint64) (string, error) {
	if f.failURI {
		return "", errors.New("timeout")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uris[id], nil
}

func (f *fakeTransport) WalletOf(ctx context.Context, id uint64) (string, error) {
	return fmt.Sprintf("0xwallet%d", id), nil
}

func (f *fakeTransport) ReputationSummary(ctx context.Context, id uint64) (*types.ReputationSummary, error) {
	if id == 0 {
		return nil, errors.New("no reputation registry")
	}
	return types.NewReputationSummary(1, big.NewInt(90), 2), nil
}

func (f *fakeTransport) Registrations(ctx context.Context, from, to uint64) ([]types.RegistrationEvent, error) {
	f.mu.Lock()
	f.calls = append(f.calls, [2]uint64{from, to})
	f.mu.Unlock()
	if f.eventsErr != nil {
		return nil, f.eventsErr
	}
	return f.events, nil
}

func (f *fakeTransport) BlockNumber(ctx context.Context) (uint64, error) {
	return f.head, f.headErr
}

func TestGetIdentity(t *testing.T) {
	ft := &fakeTransport{
		owners: map[uint64]string{1: "0xowner"},
		uris:   map[uint64]string{1: "ipfs://cid"},
	}
	r := NewReader(ft)

	id := r.GetIdentity(context.Background(), 1)
	assert.True(t, id.Exists)
	assert.Equal(t, "0xowner", id.Owner)
	assert.Equal(t, "0xwallet1", id.Wallet)
	assert.Equal(t, "ipfs://cid", id.MetadataURI)

	missing := r.GetIdentity(context.Background(), 2)
	assert.Equal(t, types.OnChainIdentity{AgentID: 2}, missing)
}

func TestGetIdentity_URIFailureDegrades(t *testing.T) {
	ft := &fakeTransport{owners: map[uint64]string{1: "0xowner"}, failURI: true}
	id := NewReader(ft).GetIdentity(context.Background(), 1)

	assert.True(t, id.Exists)
	assert.Empty(t, id.MetadataURI)
}

func TestGetReputation(t *testing.T) {
	r := NewReader(&fakeTransport{})

	rep := r.GetReputation(context.Background(), 3)
	require.NotNil(t, rep)
	assert.Equal(t, "0.90", rep.DisplayScore)

	assert.Nil(t, r.GetReputation(context.Background(), 0))
}

func TestScanRange_OrderUnderJitter(t *testing.T) {
	owners := map[uint64]string{}
	for id := uint64(10); id <= 20; id++ {
		if id%4 != 0 {
			owners[id] = fmt.Sprintf("0x%d", id)
		}
	}
	ft := &fakeTransport{owners: owners, jitter: 5 * time.Millisecond}
	r := NewReader(ft)

	got := r.ScanRange(context.Background(), 10, 20, 3)

	require.Len(t, got, 11)
	for i, id := range got {
		assert.Equal(t, uint64(10+i), id.AgentID)
		_, exists := owners[id.AgentID]
		assert.Equal(t, exists, id.Exists, "id %d", id.AgentID)
	}
	assert.LessOrEqual(t, ft.maxInFlight.Load(), int32(3), "batch width must cap in-flight reads")
}

func TestScanRange_DefaultsAndEmpty(t *testing.T) {
	ft := &fakeTransport{owners: map[uint64]string{}}
	r := NewReader(ft)

	assert.Nil(t, r.ScanRange(context.Background(), 5, 4, 0))

	got := r.ScanRange(context.Background(), 1, 12, 0)
	require.Len(t, got, 12)
	for _, id := range got {
		assert.False(t, id.Exists)
	}
	assert.LessOrEqual(t, ft.maxInFlight.Load(), int32(DefaultConcurrency))
}

func TestScanEvents(t *testing.T) {
	ft := &fakeTransport{
		head:   500,
		events: []types.RegistrationEvent{{AgentID: 7, Checkpoint: 420}},
	}
	r := NewReader(ft)

	from := uint64(400)
	events, err := r.ScanEvents(context.Background(), &from, nil)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, [2]uint64{400, 500}, ft.calls[0])

	to := uint64(450)
	_, err = r.ScanEvents(context.Background(), &from, &to)
	require.NoError(t, err)
	assert.Equal(t, [2]uint64{400, 450}, ft.calls[1])
}

func TestScanEvents_ErrorsPropagate(t *testing.T) {
	ft := &fakeTransport{eventsErr: errors.New("window too large")}
	_, err := NewReader(ft).ScanEvents(context.Background(), nil, nil)
	assert.Error(t, err)

	ft = &fakeTransport{headErr: errors.New("node down")}
	_, err = NewReader(ft).ScanEvents(context.Background(), nil, nil)
	assert.Error(t, err)
}
