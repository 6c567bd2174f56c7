// Package portpool manages exclusive TCP port leases for preview processes.
package portpool

import (
	"fmt"
	"sync"
	"time"

	"github.com/Strob0t/SiteForge/internal/domain"
)

// Lease is a temporary exclusive binding between a port and a website.
type Lease struct {
	Port      int       `json:"port"`
	WebsiteID string    `json:"website_id"`
	LeasedAt  time.Time `json:"leased_at"`
}

// Pool hands out exclusive ports from a bounded inclusive range. The lease
// table is the single source of truth for port ownership; all access goes
// through the pool's mutex.
type Pool struct {
	mu      sync.Mutex
	min     int
	max     int
	byPort  map[int]*Lease
	bySite  map[string]*Lease
	nextTry int
	now     func() time.Time // for testing
}

// New creates a pool over the inclusive range [min, max].
func New(min, max int) (*Pool, error) {
	if min < 1 || max > 65535 || max < min {
		return nil, fmt.Errorf("invalid port range %d-%d", min, max)
	}
	return &Pool{
		min:     min,
		max:     max,
		byPort:  make(map[int]*Lease),
		bySite:  make(map[string]*Lease),
		nextTry: min,
		now:     time.Now,
	}, nil
}

// Acquire leases a free port to the website. A website that already holds a
// lease gets its existing port back rather than a second one. Returns
// domain.ErrResourceExhausted when every port in the range is leased.
func (p *Pool) Acquire(websiteID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l, ok := p.bySite[websiteID]; ok {
		return l.Port, nil
	}

	size := p.max - p.min + 1
	for i := 0; i < size; i++ {
		port := p.nextTry
		p.nextTry++
		if p.nextTry > p.max {
			p.nextTry = p.min
		}
		if _, taken := p.byPort[port]; taken {
			continue
		}
		l := &Lease{Port: port, WebsiteID: websiteID, LeasedAt: p.now()}
		p.byPort[port] = l
		p.bySite[websiteID] = l
		return port, nil
	}

	return 0, domain.ErrResourceExhausted
}

// Release frees the website's port. Idempotent: releasing an unleased
// website is a no-op. Callers must only release after confirming the
// process bound to the port has terminated.
func (p *Pool) Release(websiteID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.bySite[websiteID]
	if !ok {
		return
	}
	delete(p.bySite, websiteID)
	delete(p.byPort, l.Port)
}

// LeaseFor returns the website's current lease, or false when it holds none.
func (p *Pool) LeaseFor(websiteID string) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.bySite[websiteID]
	if !ok {
		return 0, false
	}
	return l.Port, true
}

// Leased returns the number of active leases.
func (p *Pool) Leased() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.bySite)
}

// Size returns the total number of ports in the pool.
func (p *Pool) Size() int {
	return p.max - p.min + 1
}
