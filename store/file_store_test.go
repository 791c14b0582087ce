package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josephgoksu/PlanWing/types"
)

func newTestStore(t *testing.T) *FileArtifactStore {
	t.Helper()
	s, err := NewFileArtifactStore(afero.NewMemMapFs(), "/artifacts")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPut_Idempotent(t *testing.T) {
	s := newTestStore(t)

	content := []byte(`{"sum":5}`)
	addr1, err := s.Put(content)
	require.NoError(t, err)

	addr2, err := s.Put(content)
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2, "identical bytes must yield the same address")

	// Still exactly one blob behind the address.
	got, err := s.Get(addr1)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestPut_DistinctContent(t *testing.T) {
	s := newTestStore(t)

	addr1, err := s.Put([]byte(`{"sum":5}`))
	require.NoError(t, err)
	addr2, err := s.Put([]byte(`{"sum":6}`))
	require.NoError(t, err)

	assert.NotEqual(t, addr1, addr2)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)

	addr, err := s.Put([]byte("x"))
	require.NoError(t, err)

	// Flip a character to get a well-formed but unknown address.
	unknown := addr[:63] + flipHex(addr[63])
	_, err = s.Get(unknown)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestGet_MalformedAddress(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("not-an-address")
	assert.Error(t, err)
}

func TestHas(t *testing.T) {
	s := newTestStore(t)

	addr, err := s.Put([]byte("present"))
	require.NoError(t, err)

	ok, err := s.Has(addr)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Has(addr[:63] + flipHex(addr[63]))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_ConcurrentWriters(t *testing.T) {
	s := newTestStore(t)

	done := make(chan string, 16)
	for i := 0; i < 16; i++ {
		go func(i int) {
			addr, err := s.Put([]byte(fmt.Sprintf(`{"n":%d}`, i%4)))
			require.NoError(t, err)
			done <- addr
		}(i)
	}

	addrs := make(map[string]bool)
	for i := 0; i < 16; i++ {
		addrs[<-done] = true
	}
	// 4 distinct payloads, 4 distinct addresses, no write conflicts.
	assert.Len(t, addrs, 4)
}

func flipHex(c byte) string {
	if c == 'a' {
		return "b"
	}
	return "a"
}
