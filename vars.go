package vproxy

import (
	"expvar"
	"fmt"
)

// getVarInt returns an *expvar.Int for vproxy.<base>.<id>.<name>,
// reusing any previously registered var of the same name (expvar panics
// on duplicate registration, which would otherwise happen when tests
// construct the same component more than once in a process).
func getVarInt(base, id, name string) *expvar.Int {
	fullname := fmt.Sprintf("vproxy.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Int)
	}
	return expvar.NewInt(fullname)
}

// getVarMap returns an *expvar.Map for vproxy.<base>.<id>.<name>.
func getVarMap(base, id, name string) *expvar.Map {
	fullname := fmt.Sprintf("vproxy.%s.%s.%s", base, id, name)
	if v := expvar.Get(fullname); v != nil {
		return v.(*expvar.Map)
	}
	return expvar.NewMap(fullname)
}
