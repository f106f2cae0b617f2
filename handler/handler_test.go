package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

type call struct {
	name   string
	target string
}

type recorder struct {
	calls []call
}

func (rec *recorder) leaf(name string, handled bool, err error) *Leaf {
	return New(func(target string, base *Request, w http.ResponseWriter, r *http.Request) error {
		rec.calls = append(rec.calls, call{name: name, target: target})
		if handled {
			base.SetHandled(true)
		}
		return err
	})
}

func (rec *recorder) names() []string {
	var res []string
	for _, c := range rec.calls {
		res = append(res, c.name)
	}
	return res
}

func handle(t *testing.T, h Handler, target string) (*Request, error) {
	base := NewRequest("main", "ep", false)
	r := httptest.NewRequest(http.MethodGet, "http://localhost"+target, nil)
	return base, h.Handle(target, base, httptest.NewRecorder(), r)
}

func start(t *testing.T, h Handler) {
	ctx := context.Background()
	require.NoError(t, h.Start(ctx))
	t.Cleanup(func() {
		require.NoError(t, h.Stop(ctx))
	})
}

func TestWrapperDelegates(t *testing.T) {
	t.Parallel()

	var rec recorder
	w := NewWrapper(rec.leaf("a", true, nil))
	start(t, w)

	base, err := handle(t, w, "/x")
	require.NoError(t, err)
	require.True(t, base.Handled())
	require.Equal(t, []call{{name: "a", target: "/x"}}, rec.calls)

	empty := &Wrapper{}
	start(t, empty)
	base, err = handle(t, empty, "/x")
	require.NoError(t, err)
	require.False(t, base.Handled())
}

func TestWrapperLoop(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", false, nil)
	w := NewWrapper(a)

	require.ErrorIs(t, w.SetHandler(w), ErrLoop)
	require.Same(t, a, w.Handler())

	outer := NewWrapper(NewList(NewWrapper(w)))
	require.ErrorIs(t, w.SetHandler(outer), ErrLoop)
	require.Same(t, a, w.Handler())

	c := NewCollection()
	require.ErrorIs(t, c.SetHandlers(a, c), ErrLoop)
	require.ErrorIs(t, c.AddHandler(NewWrapper(c)), ErrLoop)
	require.Empty(t, c.Handlers())
}

type embedded struct {
	*Wrapper
}

func TestWrapperLoopEmbedded(t *testing.T) {
	t.Parallel()

	e := embedded{Wrapper: &Wrapper{}}
	require.ErrorIs(t, e.SetHandler(e), ErrLoop)
	require.ErrorIs(t, e.SetHandler(NewWrapper(e)), ErrLoop)
	require.Nil(t, e.Handler())
}

func TestWrapperStarted(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", false, nil)
	w := NewWrapper(a)
	start(t, w)
	require.True(t, a.IsStarted())

	require.ErrorIs(t, w.SetHandler(rec.leaf("b", false, nil)), ErrStarted)
	require.Same(t, a, w.Handler())

	c := NewCollection(a)
	start(t, c)
	require.ErrorIs(t, c.AddHandler(rec.leaf("b", false, nil)), ErrStarted)
}

func TestInsertHandler(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", true, nil)
	w := NewWrapper(a)

	inner := &Wrapper{}
	chain := NewWrapper(inner)
	require.NoError(t, w.InsertHandler(chain))
	require.Same(t, chain, w.Handler())
	require.Same(t, a, inner.Handler())

	start(t, w)
	base, err := handle(t, w, "/")
	require.NoError(t, err)
	require.True(t, base.Handled())
}

func TestInsertHandlerBadTail(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", false, nil)
	w := NewWrapper(a)

	bad := NewWrapper(NewWrapper(rec.leaf("b", false, nil)))
	require.ErrorIs(t, w.InsertHandler(bad), ErrBadTail)
	require.Same(t, a, w.Handler())

	require.ErrorIs(t, w.InsertHandler(rec.leaf("c", false, nil)), ErrBadTail)
	require.Same(t, a, w.Handler())
}

func TestListShortCircuit(t *testing.T) {
	t.Parallel()

	var rec recorder
	l := NewList(rec.leaf("a", true, nil), rec.leaf("b", true, nil), rec.leaf("c", false, nil))
	start(t, l)

	base, err := handle(t, l, "/")
	require.NoError(t, err)
	require.True(t, base.Handled())
	require.Equal(t, []string{"a"}, rec.names())
}

func TestListError(t *testing.T) {
	t.Parallel()

	var rec recorder
	errA := errors.New("a")
	l := NewList(rec.leaf("a", false, errA), rec.leaf("b", true, nil))
	start(t, l)

	_, err := handle(t, l, "/")
	require.Same(t, errA, err)
	require.Equal(t, []string{"a"}, rec.names())
}

func TestListNotStarted(t *testing.T) {
	t.Parallel()

	var rec recorder
	l := NewList(rec.leaf("a", true, nil))
	base, err := handle(t, l, "/")
	require.NoError(t, err)
	require.False(t, base.Handled())
	require.Empty(t, rec.calls)
}

func TestCollectionAggregates(t *testing.T) {
	t.Parallel()

	var rec recorder
	errA := errors.New("a")
	errC := errors.New("c")
	c := NewCollection(rec.leaf("a", true, errA), rec.leaf("b", false, nil), rec.leaf("c", false, errC))
	start(t, c)

	_, err := handle(t, c, "/")
	require.Equal(t, []string{"a", "b", "c"}, rec.names())
	require.ErrorIs(t, err, errA)
	require.ErrorIs(t, err, errC)
	require.Equal(t, []error{errA, errC}, multierr.Errors(err))
}

func TestCollectionSingleError(t *testing.T) {
	t.Parallel()

	var rec recorder
	errB := errors.New("b")
	c := NewCollection(rec.leaf("a", false, nil), rec.leaf("b", false, errB))
	start(t, c)

	_, err := handle(t, c, "/")
	require.Same(t, errB, err)
}

func TestCollectionFatal(t *testing.T) {
	t.Parallel()

	var rec recorder
	errA := errors.New("a")
	errBroken := &httpError{}
	c := NewCollection(rec.leaf("a", false, errA), rec.leaf("b", false, Fatal(errBroken)), rec.leaf("c", false, nil))
	start(t, c)

	_, err := handle(t, c, "/")
	require.Equal(t, []string{"a", "b"}, rec.names())
	require.True(t, IsFatal(err))
	require.ErrorIs(t, err, errBroken)
	require.NotErrorIs(t, err, errA)
}

type httpError struct{}

func (*httpError) Error() string {
	return "broken"
}

func TestCollectionPanic(t *testing.T) {
	t.Parallel()

	var rec recorder
	c := NewCollection(New(func(string, *Request, http.ResponseWriter, *http.Request) error {
		panic("oops")
	}), rec.leaf("b", false, nil))
	start(t, c)

	require.PanicsWithValue(t, "oops", func() { _, _ = handle(t, c, "/") })
	require.Empty(t, rec.calls)
}

func TestMutableCollection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var rec recorder
	a := rec.leaf("a", false, nil)
	c := NewMutableCollection(a)
	require.NoError(t, c.Start(ctx))

	b := rec.leaf("b", false, nil)
	require.NoError(t, c.AddHandler(b))
	require.True(t, b.IsStarted())

	p := rec.leaf("p", false, nil)
	require.NoError(t, c.PrependHandler(p))
	_, err := handle(t, c, "/")
	require.NoError(t, err)
	require.Equal(t, []string{"p", "a", "b"}, rec.names())

	require.NoError(t, c.RemoveHandler(a))
	require.False(t, a.IsRunning())
	require.Equal(t, []Handler{p, b}, c.Handlers())

	require.NoError(t, c.Stop(ctx))
	require.False(t, b.IsRunning())
	require.False(t, p.IsRunning())
}

func TestChildHandlers(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", false, nil)
	b := rec.leaf("b", false, nil)
	inner := NewWrapper(b)
	l := NewList(a, inner)
	root := NewWrapper(l)

	require.Equal(t, []Handler{l, a, inner, b}, ChildHandlers(root))
	require.Equal(t, []*Leaf{a, b}, ChildHandlersOf[*Leaf](root))
	require.Equal(t, []*Wrapper{inner}, ChildHandlersOf[*Wrapper](root))

	first, ok := ChildHandlerOf[*List](root)
	require.True(t, ok)
	require.Same(t, l, first)

	_, ok = ChildHandlerOf[*Context](root)
	require.False(t, ok)
}

// taggedLeaf is a handler of a value type that cannot be compared
type taggedLeaf struct {
	*Leaf
	tags []string
}

func TestChildHandlersValueType(t *testing.T) {
	t.Parallel()

	var rec recorder
	tagged := taggedLeaf{Leaf: rec.leaf("tagged", true, nil), tags: []string{"a"}}
	c := NewMutableCollection(tagged, rec.leaf("b", false, nil))
	require.Len(t, ChildHandlers(c), 2)

	start(t, c)
	_, err := handle(t, c, "/")
	require.NoError(t, err)
	require.Equal(t, []string{"tagged", "b"}, rec.names())

	require.NoError(t, c.RemoveHandler(c.Handlers()[1]))
	require.Len(t, c.Handlers(), 1)
}

type testServer struct {
	*Wrapper
}

func (testServer) Name() string {
	return "test"
}

func TestSetServer(t *testing.T) {
	t.Parallel()

	var rec recorder
	a := rec.leaf("a", false, nil)
	srv := testServer{Wrapper: &Wrapper{}}
	srv.SetServer(srv)
	require.NoError(t, srv.SetHandler(NewList(a)))
	require.Equal(t, srv, a.Server())

	b := rec.leaf("b", false, nil)
	l := NewList(b)
	require.Nil(t, b.Server())
	require.NoError(t, srv.SetHandler(l))
	require.Equal(t, srv, b.Server())
}

func TestDestroy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var rec recorder
	a := rec.leaf("a", false, nil)
	l := NewList(a)
	w := NewWrapper(l)

	require.NoError(t, w.Start(ctx))
	require.ErrorIs(t, w.Destroy(), ErrNotStopped)
	require.Same(t, l, w.Handler())

	require.NoError(t, w.Stop(ctx))
	require.NoError(t, w.Destroy())
	require.Nil(t, w.Handler())
	require.Empty(t, l.Handlers())
}
