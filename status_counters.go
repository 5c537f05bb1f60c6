package main

// Counter updates share the snapshot mutex but never wait on the store: a
// refresh only holds the lock for the in-memory publish.

func (c *StatusCache) IncrementCacheHit() {
	c.mu.Lock()
	c.status.System.CacheHits++
	c.mu.Unlock()
}

func (c *StatusCache) IncrementCacheMiss() {
	c.mu.Lock()
	c.status.System.CacheMisses++
	c.mu.Unlock()
}

// IncrementRequest counts one request against endpoint. Unknown endpoints
// are ignored.
func (c *StatusCache) IncrementRequest(endpoint Endpoint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch endpoint {
	case EndpointGetEntity:
		c.status.Requests.GetEntity++
	case EndpointGetRandom:
		c.status.Requests.GetRandom++
	case EndpointGetStatement:
		c.status.Requests.GetStatement++
	case EndpointUpdateStatement:
		c.status.Requests.UpdateStatement++
	case EndpointGetStatus:
		c.status.Requests.GetStatus++
	}
}
