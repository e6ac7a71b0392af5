// Package integration exercises a full kvmaster + kvslave cluster
// end-to-end over the real TCP wire protocol: no HTTP, no subprocesses,
// just the actual coordinator/replica packages wired together the way
// the cmd/ binaries wire them, listening on ephemeral loopback ports.
package integration

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/kvring/internal/cache"
	"github.com/dreamware/kvring/internal/coordinator"
	"github.com/dreamware/kvring/internal/metrics"
	"github.com/dreamware/kvring/internal/netsvc"
	"github.com/dreamware/kvring/internal/queue"
	"github.com/dreamware/kvring/internal/replica"
	"github.com/dreamware/kvring/internal/store"
	"github.com/dreamware/kvring/internal/txlog"
	"github.com/dreamware/kvring/internal/wire"
)

// cluster is a running master plus N slaves, all listening on loopback.
type cluster struct {
	t         *testing.T
	master    *netsvc.Acceptor
	masterQ   *queue.Queue
	slaves    []*netsvc.Acceptor
	slaveQs   []*queue.Queue
	connector *netsvc.Connector
}

func newCluster(t *testing.T, numSlaves, redundancy int) *cluster {
	t.Helper()
	log := zerolog.Nop()

	coord := coordinator.New(coordinator.Config{
		Logger:     log,
		Metrics:    metrics.Noop,
		Capacity:   numSlaves,
		Redundancy: redundancy,
		CacheSets:  2,
		CacheCap:   4,
		Connect:    time.Second,
	})

	masterQ := queue.New(32)
	masterAcc, err := netsvc.Listen("127.0.0.1:0", masterQ, log)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		go netsvc.Serve(masterQ, coord.Handle, log)
	}
	go masterAcc.Serve()

	c := &cluster{t: t, master: masterAcc, masterQ: masterQ, connector: netsvc.NewConnector(time.Second)}

	for i := 0; i < numSlaves; i++ {
		dir, err := os.MkdirTemp("", "kvslave-data-")
		require.NoError(t, err)
		t.Cleanup(func() { os.RemoveAll(dir) })

		st, err := store.Open(dir, 0, 0, metrics.Noop, log)
		require.NoError(t, err)
		txLog, err := txlog.Open(t.TempDir(), log)
		require.NoError(t, err)

		srv, err := replica.New(replica.Config{
			Store:   st,
			Cache:   cache.NewCache(2, 4, metrics.Noop),
			Log:     txLog,
			Logger:  log,
			Metrics: metrics.Noop,
			Host:    "127.0.0.1",
			TPC:     true,
		})
		require.NoError(t, err)

		q := queue.New(32)
		acc, err := netsvc.Listen("127.0.0.1:0", q, log)
		require.NoError(t, err)
		for j := 0; j < 4; j++ {
			go netsvc.Serve(q, srv.Handle, log)
		}
		go acc.Serve()

		c.slaves = append(c.slaves, acc)
		c.slaveQs = append(c.slaveQs, q)

		_, port := splitAddr(t, acc.Addr().String())
		value := fmt.Sprintf("%d:127.0.0.1", port)
		resp, err := c.connector.RequestResponse(masterAcc.Addr().String(), &wire.Message{Type: wire.Register, Value: []byte(value)})
		require.NoError(t, err)
		require.Equal(t, "SUCCESS", resp.Message)
	}

	t.Cleanup(func() {
		c.master.Stop()
		c.masterQ.Close()
		for i, acc := range c.slaves {
			acc.Stop()
			c.slaveQs[i].Close()
		}
	})

	return c
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	var port int
	n, err := fmt.Sscanf(addr, "127.0.0.1:%d", &port)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return "127.0.0.1", port
}

func (c *cluster) get(key string) (*wire.Message, error) {
	return c.connector.RequestResponse(c.master.Addr().String(), &wire.Message{Type: wire.GetReq, Key: []byte(key)})
}

func (c *cluster) put(key, value string) (*wire.Message, error) {
	return c.connector.RequestResponse(c.master.Addr().String(), &wire.Message{Type: wire.PutReq, Key: []byte(key), Value: []byte(value)})
}

func (c *cluster) del(key string) (*wire.Message, error) {
	return c.connector.RequestResponse(c.master.Addr().String(), &wire.Message{Type: wire.DelReq, Key: []byte(key)})
}

func TestClusterStoreAndRetrieve(t *testing.T) {
	c := newCluster(t, 3, 2)

	resp, err := c.put("greeting", "Hello World")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", resp.Message)

	resp, err = c.get("greeting")
	require.NoError(t, err)
	require.Equal(t, wire.GetResp, resp.Type)
	require.Equal(t, "Hello World", string(resp.Value))
}

func TestClusterUpdateExistingValue(t *testing.T) {
	c := newCluster(t, 3, 2)

	_, err := c.put("counter", "1")
	require.NoError(t, err)
	resp, err := c.put("counter", "2")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", resp.Message)

	resp, err = c.get("counter")
	require.NoError(t, err)
	require.Equal(t, "2", string(resp.Value))
}

func TestClusterDeleteValue(t *testing.T) {
	c := newCluster(t, 3, 2)

	_, err := c.put("temp", "temporary data")
	require.NoError(t, err)

	resp, err := c.del("temp")
	require.NoError(t, err)
	require.Equal(t, "SUCCESS", resp.Message)

	resp, err = c.get("temp")
	require.NoError(t, err)
	require.NotEqual(t, wire.GetResp, resp.Type)
}

func TestClusterNonExistentKey(t *testing.T) {
	c := newCluster(t, 3, 2)

	resp, err := c.get("does-not-exist")
	require.NoError(t, err)
	require.NotEqual(t, wire.GetResp, resp.Type)
}

func TestClusterConsistentRouting(t *testing.T) {
	c := newCluster(t, 3, 2)

	_, err := c.put("consistent-key", "initial")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		resp, err := c.get("consistent-key")
		require.NoError(t, err)
		require.Equal(t, "initial", string(resp.Value))
	}
}

func TestClusterManyKeysSurviveReplication(t *testing.T) {
	c := newCluster(t, 4, 3)

	keys := []string{"key1", "key2", "key3", "key4", "key5", "key6", "key7", "key8"}
	for i, key := range keys {
		value := fmt.Sprintf("value%d", i+1)
		resp, err := c.put(key, value)
		require.NoError(t, err)
		require.Equal(t, "SUCCESS", resp.Message)
	}

	for i, key := range keys {
		expected := fmt.Sprintf("value%d", i+1)
		resp, err := c.get(key)
		require.NoError(t, err)
		require.Equal(t, expected, string(resp.Value))
	}
}

func TestClusterConcurrentOperations(t *testing.T) {
	c := newCluster(t, 3, 2)

	numClients := 10
	errs := make(chan error, numClients)
	done := make(chan struct{}, numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			key := fmt.Sprintf("concurrent-key-%d", id)
			value := fmt.Sprintf("concurrent-value-%d", id)
			if _, err := c.put(key, value); err != nil {
				errs <- err
				return
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < numClients; i++ {
		select {
		case err := <-errs:
			t.Fatalf("put failed: %v", err)
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for concurrent puts")
		}
	}

	for i := 0; i < numClients; i++ {
		key := fmt.Sprintf("concurrent-key-%d", i)
		expected := fmt.Sprintf("concurrent-value-%d", i)
		resp, err := c.get(key)
		require.NoError(t, err)
		require.Equal(t, expected, string(resp.Value))
	}
}

func TestClusterVariousKeyPatterns(t *testing.T) {
	c := newCluster(t, 3, 2)

	cases := []struct{ key, value string }{
		{"simple", "text"},
		{"user@example.com", "email-data"},
		{"path/to/resource", "nested-data"},
		{"key-with-spaces here", "spaced-value"},
		{"数字", "unicode-value"},
		{"very:long:key:with:many:colons:and:segments", "complex"},
	}

	for _, tc := range cases {
		resp, err := c.put(tc.key, tc.value)
		require.NoErrorf(t, err, "put %q", tc.key)
		require.Equalf(t, "SUCCESS", resp.Message, "put %q", tc.key)

		resp, err = c.get(tc.key)
		require.NoErrorf(t, err, "get %q", tc.key)
		require.Equalf(t, tc.value, string(resp.Value), "get %q", tc.key)
	}
}

func TestClusterAbortsWhenAReplicaIsUnreachable(t *testing.T) {
	// redundancy equals the slave count, so every key's replica set is
	// every slave: killing one guarantees it's in the set, and 2PC's
	// all-or-nothing rule means the write must abort rather than commit
	// to a subset.
	c := newCluster(t, 2, 2)

	c.slaves[0].Stop()
	c.slaveQs[0].Close()

	resp, err := c.put("doomed-key", "never-lands")
	require.NoError(t, err)
	require.NotEqual(t, "SUCCESS", resp.Message)

	resp, err = c.get("doomed-key")
	require.NoError(t, err)
	require.NotEqual(t, wire.GetResp, resp.Type)
}
