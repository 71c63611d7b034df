package intern

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntern_ReturnsCanonicalCopy(t *testing.T) {
	in, err := New(16)
	require.NoError(t, err)

	line1 := "WORKLOAD=PRODBATCH SERVICE CLASS=BATCHHI"
	line2 := "WORKLOAD=PRODBATCH SERVICE CLASS=BATCHLO"

	a := in.Intern(line1[9:18])
	b := in.Intern(line2[9:18])

	assert.Equal(t, "PRODBATCH", a)
	assert.Equal(t, a, b)
	assert.Same(t, unsafe.StringData(a), unsafe.StringData(b), "equal identifiers should share storage")
	assert.Equal(t, 1, in.Len())
}

func TestIntern_NilInterner(t *testing.T) {
	var in *Interner
	assert.Equal(t, "BATCHHI", in.Intern("BATCHHI"))
	assert.Equal(t, 0, in.Len())
}

func TestIntern_EvictsOldest(t *testing.T) {
	in, err := New(2)
	require.NoError(t, err)

	in.Intern("A")
	in.Intern("B")
	in.Intern("C")

	assert.Equal(t, 2, in.Len())
}
