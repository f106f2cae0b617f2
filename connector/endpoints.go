package connector

import (
	"time"

	"github.com/hashicorp/go-memdb"
	"github.com/ridge/harbor/tlog"
	"github.com/ridge/must/v2"
	"go.uber.org/zap"
)

const endpointTable = "endpoint"

type endpointRecord struct {
	ID       string
	Slot     int
	Endpoint *Endpoint
}

var endpointSchema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		endpointTable: {
			Name: endpointTable,
			Indexes: map[string]*memdb.IndexSchema{
				"id": {
					Name:    "id",
					Unique:  true,
					Indexer: &memdb.StringFieldIndex{Field: "ID"},
				},
				"slot": {
					Name:    "slot",
					Indexer: &memdb.IntFieldIndex{Field: "Slot"},
				},
			},
		},
	},
}

func newEndpointDB() *memdb.MemDB {
	return must.OK1(memdb.NewMemDB(endpointSchema))
}

func (c *Connector) endpointOpened(ep *Endpoint) {
	txn := c.endpoints.Txn(true)
	must.OK(txn.Insert(endpointTable, endpointRecord{ID: ep.id, Slot: ep.slot, Endpoint: ep}))
	txn.Commit()

	if c.config.IdleTimeout > 0 {
		c.config.Scheduler.Schedule(ep, time.Now().Add(c.config.IdleTimeout))
	}
}

func (c *Connector) endpointClosed(ep *Endpoint) {
	c.config.Scheduler.Schedule(ep, time.Time{})

	txn := c.endpoints.Txn(true)
	must.OK1(txn.DeleteAll(endpointTable, "id", ep.id))
	txn.Commit()
}

func (c *Connector) queryEndpoints(index string, args ...any) []*Endpoint {
	txn := c.endpoints.Txn(false)
	defer txn.Abort()

	it := must.OK1(txn.Get(endpointTable, index, args...))
	var res []*Endpoint
	for obj := it.Next(); obj != nil; obj = it.Next() {
		res = append(res, obj.(endpointRecord).Endpoint)
	}
	return res
}

// ConnectedEndpoints returns the open endpoints of the connector
func (c *Connector) ConnectedEndpoints() []*Endpoint {
	return c.queryEndpoints("id")
}

// EndpointsOf returns the open endpoints accepted by the given acceptor
func (c *Connector) EndpointsOf(slot int) []*Endpoint {
	return c.queryEndpoints("slot", slot)
}

// Endpoint returns the open endpoint with the given ID
func (c *Connector) Endpoint(id string) (*Endpoint, bool) {
	txn := c.endpoints.Txn(false)
	defer txn.Abort()

	obj := must.OK1(txn.First(endpointTable, "id", id))
	if obj == nil {
		return nil, false
	}
	return obj.(endpointRecord).Endpoint, true
}

// checkIdle closes the endpoint if it has been idle for the idle timeout,
// otherwise reschedules the check
func (e *Endpoint) checkIdle(now time.Time) {
	if e.Closed() {
		return
	}
	timeout := e.connector.config.IdleTimeout
	deadline := e.LastActive().Add(timeout)
	if now.Before(deadline) {
		e.connector.config.Scheduler.Schedule(e, deadline)
		return
	}
	tlog.Get(e.connector.runCtx()).Debug("Closing idle endpoint", zap.String("endpoint", e.id),
		zap.Stringer("remote", e.RemoteAddr()), zap.Duration("idleTimeout", timeout))
	_ = e.Close()
}
