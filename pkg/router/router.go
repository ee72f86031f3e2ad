// Package router maps request paths to handlers by registered prefix.
//
// The table is an immutable radix tree published through an atomic pointer:
// Use builds a new tree and swaps it in, Dispatch reads whichever tree is
// current. Registration may therefore run while requests are in flight.
package router

import (
	"strings"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"

	"fabric-node/pkg/model"
)

// Router is a registered-prefix route table.
type Router struct {
	mu   sync.Mutex // serializes writers
	tree atomic.Pointer[iradix.Tree]
}

// New returns an empty router.
func New() *Router {
	r := &Router{}
	r.tree.Store(iradix.New())
	return r
}

// Use registers handler for route, replacing any earlier handler for the
// same route. The replaced handler, if any, is returned.
func (r *Router) Use(route string, handler model.Handler) (model.Handler, bool) {
	route = Normalize(route)
	r.mu.Lock()
	defer r.mu.Unlock()
	next, old, replaced := r.tree.Load().Insert([]byte(route), handler)
	r.tree.Store(next)
	if !replaced {
		return nil, false
	}
	return old.(model.Handler), true
}

// Remove drops route and reports whether it was registered.
func (r *Router) Remove(route string) bool {
	route = Normalize(route)
	r.mu.Lock()
	defer r.mu.Unlock()
	next, _, ok := r.tree.Load().Delete([]byte(route))
	if ok {
		r.tree.Store(next)
	}
	return ok
}

// Match finds the longest registered route that is a path prefix of url.
func (r *Router) Match(url string) (string, model.Handler, bool) {
	path := pathOf(url)
	var (
		best    string
		handler model.Handler
		found   bool
	)
	r.tree.Load().Root().WalkPath([]byte(path), func(k []byte, v interface{}) bool {
		route := string(k)
		if covers(route, path) {
			best, handler, found = route, v.(model.Handler), true
		}
		return false
	})
	return best, handler, found
}

// Dispatch routes req to the matching handler, replying model.NotFound when
// nothing matches.
func (r *Router) Dispatch(req *model.Request, reply model.Reply) {
	_, handler, ok := r.Match(req.URL)
	if !ok {
		reply(model.NotFound, nil)
		return
	}
	handler(req, reply)
}

// Routes lists registered routes in lexical order.
func (r *Router) Routes() []string {
	var out []string
	r.tree.Load().Root().Walk(func(k []byte, _ interface{}) bool {
		out = append(out, string(k))
		return false
	})
	return out
}

// Len reports the number of registered routes.
func (r *Router) Len() int {
	return r.tree.Load().Len()
}

// Normalize gives a route a leading slash and drops a trailing one.
func Normalize(route string) string {
	route = strings.TrimSpace(route)
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if len(route) > 1 {
		route = strings.TrimRight(route, "/")
		if route == "" {
			route = "/"
		}
	}
	return route
}

func pathOf(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	if url == "" {
		return "/"
	}
	return url
}

// Covers reports whether a normalized route serves url: route must be a
// prefix of the url's path ending on a segment boundary, so "/users" serves
// "/users/7" but not "/usersettings".
func Covers(route, url string) bool {
	path := pathOf(url)
	return strings.HasPrefix(path, route) && covers(route, path)
}

func covers(route, path string) bool {
	if route == "/" || len(route) == len(path) {
		return true
	}
	return path[len(route)] == '/'
}
