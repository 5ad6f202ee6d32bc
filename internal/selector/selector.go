package selector

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

var (
	// ErrNoAddress is returned by Next when no endpoint could be picked.
	ErrNoAddress = errors.New("selector: no address available")
	// ErrEmptyPool is returned by Next when no endpoint is registered.
	ErrEmptyPool = fmt.Errorf("%w: empty pool", ErrNoAddress)
)

// Address identifies a backend endpoint.
type Address struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// String returns the pool key of the address.
func (a Address) String() string {
	return key(a.Host, a.Port)
}

// Selector picks one endpoint out of a pool and learns from reported
// call outcomes. Implementations are safe for concurrent use.
type Selector interface {
	AddAddr(host string, port int)
	RemoveAddr(host string, port int)
	Failed(host string, port int)
	Succeed(host string, port int)
	Next() (Address, error)
	Get() []Address
}

func key(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// removeAddress drops the first entry matching addr, keeping order.
func removeAddress(addrs []Address, addr Address) []Address {
	for i, a := range addrs {
		if a == addr {
			return append(addrs[:i], addrs[i+1:]...)
		}
	}
	return addrs
}

// Sync makes the pool of sel match addrs: missing addresses are added in
// order and addresses not listed are removed. Endpoints present in both
// keep their state.
func Sync(sel Selector, addrs []Address) (added, removed int) {
	want := make(map[Address]struct{}, len(addrs))
	for _, a := range addrs {
		want[a] = struct{}{}
	}

	have := make(map[Address]struct{})
	for _, a := range sel.Get() {
		have[a] = struct{}{}
		if _, ok := want[a]; !ok {
			sel.RemoveAddr(a.Host, a.Port)
			removed++
		}
	}

	for _, a := range addrs {
		if _, ok := have[a]; !ok {
			sel.AddAddr(a.Host, a.Port)
			have[a] = struct{}{}
			added++
		}
	}

	return added, removed
}
