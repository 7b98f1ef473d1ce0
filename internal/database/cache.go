package database

import (
	"strconv"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"crepo/internal/cr"
)

// lookup records the outcome of a query so absent rows can be cached too.
type lookup[T any] struct {
	value T
	found bool
}

// repoCache holds the store's in-process caches. Values are stored by value and
// copied on the way out so callers never share cached state.
type repoCache struct {
	casesByUUID *cache.Cache
	casesByID   *cache.Cache
	dsByObject  *cache.Cache
	dsByID      *cache.Cache
	accounts    *cache.Cache

	// Account types never change at runtime.
	accountTypes *cache.Cache

	typesMu     sync.RWMutex
	types       map[int]cr.CorrelationType
	typesLoaded bool

	group   singleflight.Group
	metrics *Metrics
}

func newRepoCache(ttl time.Duration, metrics *Metrics) *repoCache {
	cleanup := 2 * ttl
	return &repoCache{
		casesByUUID:  cache.New(ttl, cleanup),
		casesByID:    cache.New(ttl, cleanup),
		dsByObject:   cache.New(ttl, cleanup),
		dsByID:       cache.New(ttl, cleanup),
		accounts:     cache.New(ttl, cleanup),
		accountTypes: cache.New(cache.NoExpiration, 0),
		types:        make(map[int]cr.CorrelationType),
		metrics:      metrics,
	}
}

func (c *repoCache) clear() {
	c.casesByUUID.Flush()
	c.casesByID.Flush()
	c.dsByObject.Flush()
	c.dsByID.Flush()
	c.accounts.Flush()
	c.accountTypes.Flush()
	c.invalidateTypes()
}

// Cases

func cloneCase(c cr.Case) *cr.Case {
	if c.Org != nil {
		org := *c.Org
		c.Org = &org
	}
	return &c
}

// getCaseByUUID returns the cached case; ok is false on a cache miss. A nil case
// with ok set means the UUID is known to be absent.
func (c *repoCache) getCaseByUUID(uuid string) (*cr.Case, bool) {
	return c.getCase(c.casesByUUID, uuid)
}

func (c *repoCache) getCaseByID(id int64) (*cr.Case, bool) {
	return c.getCase(c.casesByID, strconv.FormatInt(id, 10))
}

func (c *repoCache) getCase(store *cache.Cache, key string) (*cr.Case, bool) {
	v, ok := store.Get(key)
	if !ok {
		c.metrics.miss(cacheCases)
		return nil, false
	}
	c.metrics.hit(cacheCases)
	l := v.(lookup[cr.Case])
	if !l.found {
		return nil, true
	}
	return cloneCase(l.value), true
}

func (c *repoCache) clearCases() {
	c.casesByUUID.Flush()
	c.casesByID.Flush()
}

// putCase writes through both case caches.
func (c *repoCache) putCase(cs *cr.Case) {
	l := lookup[cr.Case]{value: *cloneCase(*cs), found: true}
	c.casesByUUID.SetDefault(cs.UUID, l)
	c.casesByID.SetDefault(strconv.FormatInt(cs.ID, 10), l)
}

func (c *repoCache) putCaseAbsentByUUID(uuid string) {
	c.casesByUUID.SetDefault(uuid, lookup[cr.Case]{})
}

func (c *repoCache) putCaseAbsentByID(id int64) {
	c.casesByID.SetDefault(strconv.FormatInt(id, 10), lookup[cr.Case]{})
}

// Data sources

func dsObjectKey(caseID, objectID int64) string {
	return strconv.FormatInt(caseID, 10) + "-" + strconv.FormatInt(objectID, 10)
}

func dsIDKey(caseID, id int64) string {
	return strconv.FormatInt(caseID, 10) + "-id" + strconv.FormatInt(id, 10)
}

// getDataSource returns the cached data source; ok is false on a cache miss. A
// nil data source with ok set means the key is known to be absent.
func (c *repoCache) getDataSource(caseID, objectID int64) (*cr.DataSource, bool) {
	return c.getDS(c.dsByObject, dsObjectKey(caseID, objectID))
}

func (c *repoCache) getDataSourceByID(caseID, id int64) (*cr.DataSource, bool) {
	return c.getDS(c.dsByID, dsIDKey(caseID, id))
}

func (c *repoCache) getDS(store *cache.Cache, key string) (*cr.DataSource, bool) {
	v, ok := store.Get(key)
	if !ok {
		c.metrics.miss(cacheDataSources)
		return nil, false
	}
	c.metrics.hit(cacheDataSources)
	l := v.(lookup[cr.DataSource])
	if !l.found {
		return nil, true
	}
	ds := l.value
	return &ds, true
}

// putDataSource writes through both data source caches.
func (c *repoCache) putDataSource(ds *cr.DataSource) {
	l := lookup[cr.DataSource]{value: *ds, found: true}
	c.dsByObject.SetDefault(dsObjectKey(ds.CaseID, ds.ObjectID), l)
	c.dsByID.SetDefault(dsIDKey(ds.CaseID, ds.ID), l)
}

func (c *repoCache) putDataSourceAbsent(caseID, objectID int64) {
	c.dsByObject.SetDefault(dsObjectKey(caseID, objectID), lookup[cr.DataSource]{})
}

func (c *repoCache) putDataSourceAbsentByID(caseID, id int64) {
	c.dsByID.SetDefault(dsIDKey(caseID, id), lookup[cr.DataSource]{})
}

// Correlation types

// typeByID returns the cached type and whether the type cache has been loaded.
func (c *repoCache) typeByID(id int) (cr.CorrelationType, bool, bool) {
	c.typesMu.RLock()
	defer c.typesMu.RUnlock()
	if !c.typesLoaded {
		return cr.CorrelationType{}, false, false
	}
	t, ok := c.types[id]
	return t, ok, true
}

func (c *repoCache) loadTypes(types []cr.CorrelationType) {
	c.typesMu.Lock()
	defer c.typesMu.Unlock()
	c.types = make(map[int]cr.CorrelationType, len(types))
	for _, t := range types {
		c.types[t.ID] = t
	}
	c.typesLoaded = true
}

func (c *repoCache) invalidateTypes() {
	c.typesMu.Lock()
	defer c.typesMu.Unlock()
	c.types = make(map[int]cr.CorrelationType)
	c.typesLoaded = false
}

// Accounts

func accountKey(typeID int64, identifier string) string {
	return strconv.FormatInt(typeID, 10) + "|" + identifier
}

func (c *repoCache) getAccount(typeID int64, identifier string) (*cr.Account, bool) {
	v, ok := c.accounts.Get(accountKey(typeID, identifier))
	if !ok {
		c.metrics.miss(cacheAccounts)
		return nil, false
	}
	c.metrics.hit(cacheAccounts)
	a := v.(cr.Account)
	return &a, true
}

func (c *repoCache) putAccount(a *cr.Account) {
	c.accounts.SetDefault(accountKey(a.Type.ID, a.Identifier), *a)
}

// getAccountType returns the cached lookup for name; ok is false on a cache miss.
func (c *repoCache) getAccountType(name string) (lookup[cr.AccountType], bool) {
	v, ok := c.accountTypes.Get(name)
	if !ok {
		c.metrics.miss(cacheAccountTypes)
		return lookup[cr.AccountType]{}, false
	}
	c.metrics.hit(cacheAccountTypes)
	return v.(lookup[cr.AccountType]), true
}

func (c *repoCache) putAccountType(name string, l lookup[cr.AccountType]) {
	c.accountTypes.Set(name, l, cache.NoExpiration)
}
