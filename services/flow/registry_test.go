package flow

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v string) ExecutorFunc {
	return func(context.Context, *ExecContext) Result { return Ok(v) }
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	_, ok := reg.Lookup("textInput")
	assert.False(t, ok)
	assert.False(t, reg.Has("textInput"))

	reg.Register("textInput", constant("a"))

	exec, ok := reg.Lookup("textInput")
	require.True(t, ok)
	assert.Equal(t, "a", exec.Execute(context.Background(), &ExecContext{}).Value)
	assert.True(t, reg.Has("textInput"))
}

func TestRegistry_LastRegistrationWins(t *testing.T) {
	reg := NewRegistry()
	reg.Register("llm", constant("first"))
	reg.Register("llm", constant("second"))

	exec, _ := reg.Lookup("llm")
	assert.Equal(t, "second", exec.Execute(context.Background(), &ExecContext{}).Value)
	assert.Equal(t, []string{"llm"}, reg.Types())
}

func TestRegistry_TypesSorted(t *testing.T) {
	reg := NewRegistry()
	for _, typ := range []string{"textOutput", "apiCall", "llm"} {
		reg.Register(typ, constant(typ))
	}

	assert.Equal(t, []string{"apiCall", "llm", "textOutput"}, reg.Types())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Register("x", constant("x"))
		}()
		go func() {
			defer wg.Done()
			reg.Lookup("x")
			reg.Types()
		}()
	}
	wg.Wait()

	assert.True(t, reg.Has("x"))
}
