package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	opened  int
	edited  []string
	echoed  []string
	editErr error
}

func (f *fakeEngine) Open(ctx context.Context) error {
	f.opened++
	return nil
}

func (f *fakeEngine) Edit(ctx context.Context, filename string) error {
	f.edited = append(f.edited, filename)
	return f.editErr
}

func (f *fakeEngine) Echo(ctx context.Context, msg string) error {
	f.echoed = append(f.echoed, msg)
	return nil
}

type fakeTokens map[string]bool

func (f fakeTokens) Fire(token string) bool {
	if f[token] {
		delete(f, token)
		return true
	}
	return false
}

func TestCallRoutesOperations(t *testing.T) {
	eng := &fakeEngine{}
	d := New(eng, nil)
	ctx := context.Background()

	require.NoError(t, d.Call(ctx, MethodOpen, nil))
	require.NoError(t, d.Call(ctx, MethodEdit, []any{"a.txt"}))
	require.NoError(t, d.Call(ctx, MethodEdit, []any{[]byte("b.txt")}))
	require.NoError(t, d.Call(ctx, MethodError, []any{"Vim:E15", "function foo, line 3"}))

	assert.Equal(t, 1, eng.opened)
	assert.Equal(t, []string{"a.txt", "b.txt"}, eng.edited)
	assert.Equal(t, []string{"Vim:E15\nfunction foo, line 3"}, eng.echoed)
}

func TestArgumentErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		args   []any
	}{
		{"edit without filename", MethodEdit, nil},
		{"edit with empty filename", MethodEdit, []any{""}},
		{"edit with number", MethodEdit, []any{int64(3)}},
		{"error without throwpoint", MethodError, []any{"boom"}},
		{"error with non-string exception", MethodError, []any{nil, "here"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &fakeEngine{}
			err := New(eng, nil).Call(context.Background(), tt.method, tt.args)

			var argErr *ArgumentError
			require.ErrorAs(t, err, &argErr)
			assert.Equal(t, tt.method, argErr.Method)
			assert.Empty(t, eng.edited)
			assert.Empty(t, eng.echoed)
		})
	}
}

func TestEngineErrorsPassThrough(t *testing.T) {
	hostErr := errors.New("E212: Can't open file for writing")
	d := New(&fakeEngine{editErr: hostErr}, nil)

	assert.ErrorIs(t, d.Call(context.Background(), MethodEdit, []any{"a.txt"}), hostErr)
}

func TestTokenMethodsFireOnce(t *testing.T) {
	tokens := fakeTokens{"guise:1234": true}
	d := New(&fakeEngine{}, tokens)

	assert.NoError(t, d.Call(context.Background(), "guise:1234", nil))

	var unknown *UnknownMethodError
	assert.ErrorAs(t, d.Call(context.Background(), "guise:1234", nil), &unknown)
}

func TestUnknownMethod(t *testing.T) {
	err := New(&fakeEngine{}, nil).Call(context.Background(), "write", nil)

	assert.EqualError(t, err, "unknown method 'write'")
}
