package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelBookLifecycle(t *testing.T) {
	book := NewChannelBook()
	h := book.Open(SessionInfo{Key: "s1"})
	require.NotEmpty(t, h)

	id1, created, err := book.Register(h, "vCar_Buffered", DataTypeFloat64)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, ChannelID(1), id1)

	again, created, err := book.Register(h, "vCar_Buffered", DataTypeFloat64)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, again)

	id2, _, err := book.Register(h, "vCar_Min", DataTypeFloat64)
	require.NoError(t, err)
	assert.Equal(t, ChannelID(2), id2)

	_, err = book.CheckRow(h, []ChannelID{id1}, 1)
	assert.ErrorIs(t, err, ErrNotCommitted)

	require.NoError(t, book.Commit(h))
	assert.ErrorIs(t, book.Commit(h), ErrCommitted)

	_, _, err = book.Register(h, "late", DataTypeFloat64)
	assert.ErrorIs(t, err, ErrCommitted)

	names, err := book.CheckRow(h, []ChannelID{id2, id1}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"vCar_Min", "vCar_Buffered"}, names)

	_, err = book.CheckRow(h, []ChannelID{id1}, 2)
	assert.ErrorIs(t, err, ErrLengthMismatch)
	_, err = book.CheckSeries(h, 99, 1, 1)
	assert.ErrorIs(t, err, ErrUnknownChannel)

	name, err := book.CheckSeries(h, id1, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, "vCar_Buffered", name)

	already, err := book.End(h)
	require.NoError(t, err)
	assert.False(t, already)
	already, err = book.End(h)
	require.NoError(t, err)
	assert.True(t, already)

	assert.ErrorIs(t, book.CheckWritable(h), ErrSessionEnded)
	assert.Len(t, book.Channels(h), 2)

	require.NoError(t, book.Close(h))
	assert.ErrorIs(t, book.Close(h), ErrUnknownSession)
	assert.Empty(t, book.Handles())
}

func TestChannelBookRejectsBadChannels(t *testing.T) {
	book := NewChannelBook()
	h := book.Open(SessionInfo{})

	_, _, err := book.Register(h, "", DataTypeFloat64)
	assert.ErrorIs(t, err, ErrEmptyName)
	_, _, err = book.Register(h, "x", DataType(0))
	assert.ErrorIs(t, err, ErrUnsupportedType)
	_, _, err = book.Register("missing", "x", DataTypeFloat64)
	assert.ErrorIs(t, err, ErrUnknownSession)
}
