package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	mapset "github.com/deckarep/golang-set"
	"github.com/stretchr/testify/require"
)

func newRecordingConnection(r *Registry) (*Connection, *[][]byte, *sync.Mutex) {
	var mu sync.Mutex
	var received [][]byte
	conn := r.NewConnection(func(payload []byte) error {
		mu.Lock()
		received = append(received, payload)
		mu.Unlock()
		return nil
	})
	return conn, &received, &mu
}

func TestPublishHeadDeliversToNewHeadsSubscribers(t *testing.T) {
	r := NewRegistry()
	conn, received, mu := newRecordingConnection(r)
	defer conn.Close()

	conn.Subscribe(KindNewHeads, nil)
	r.PublishHead(map[string]string{"number": "0x1"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*received) == 1
	}, time.Second, time.Millisecond)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	r := NewRegistry()
	conn, received, mu := newRecordingConnection(r)
	defer conn.Close()

	sub := conn.Subscribe(KindNewHeads, nil)
	require.True(t, conn.Unsubscribe(sub.ID))
	r.PublishHead(map[string]string{"number": "0x1"})

	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, *received)
}

func TestCloseCancelsAllSubscriptions(t *testing.T) {
	r := NewRegistry()
	conn, received, mu := newRecordingConnection(r)
	conn.Subscribe(KindNewHeads, nil)
	conn.Close()

	r.PublishHead(map[string]string{"number": "0x1"})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	require.Empty(t, *received)
}

func TestFilterMatchesAddressAndTopicOR(t *testing.T) {
	addrA := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	addrB := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	topicX := common.HexToHash("0x01")
	topicY := common.HexToHash("0x02")

	addrSet := mapset.NewSet()
	addrSet.Add(addrA)
	topicSet := mapset.NewSet()
	topicSet.Add(topicX)
	topicSet.Add(topicY)

	f := &Filter{Addresses: addrSet, Topics: []mapset.Set{topicSet}}

	require.True(t, f.Matches(LogEvent{Address: addrA, Topics: []common.Hash{topicX}}))
	require.True(t, f.Matches(LogEvent{Address: addrA, Topics: []common.Hash{topicY}}))
	require.False(t, f.Matches(LogEvent{Address: addrB, Topics: []common.Hash{topicX}}))

	otherTopic := common.HexToHash("0x03")
	require.False(t, f.Matches(LogEvent{Address: addrA, Topics: []common.Hash{otherTopic}}))
}

func TestFilterBlockRange(t *testing.T) {
	from := uint64(10)
	to := uint64(20)
	f := &Filter{FromBlock: &from, ToBlock: &to}

	require.True(t, f.Matches(LogEvent{BlockNumber: 15}))
	require.False(t, f.Matches(LogEvent{BlockNumber: 5}))
	require.False(t, f.Matches(LogEvent{BlockNumber: 25}))
}

func TestNilFilterMatchesEverything(t *testing.T) {
	var f *Filter
	require.True(t, f.Matches(LogEvent{}))
}

// TestSlowConsumerNeverDelaysOthers is property 8: a subscriber whose
// outbound queue is saturated is dropped with a slow-consumer notice,
// never by blocking the publisher or stalling another subscriber's
// delivery on the same block.
func TestSlowConsumerNeverDelaysOthers(t *testing.T) {
	r := NewRegistry()

	blockedCh := make(chan struct{})
	slow := r.NewConnection(func(payload []byte) error {
		<-blockedCh // never unblocks during this test
		return nil
	})
	defer close(blockedCh)
	defer slow.Close()

	fastConn, fastReceived, fastMu := newRecordingConnection(r)
	defer fastConn.Close()

	slow.Subscribe(KindNewHeads, nil)
	fastConn.Subscribe(KindNewHeads, nil)

	// Saturate the slow connection's bounded outbound queue.
	for i := 0; i < outboundQueueCap+10; i++ {
		r.PublishHead(map[string]int{"n": i})
	}

	require.Eventually(t, func() bool {
		fastMu.Lock()
		defer fastMu.Unlock()
		return len(*fastReceived) > 0
	}, time.Second, time.Millisecond, "fast subscriber must still receive deliveries")
}
