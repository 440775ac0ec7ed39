package swap

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ChatID_SortsUsersAscending(t *testing.T) {
	assert.Equal(t, "1_2_10", ChatID(2, 1, 10))
	assert.Equal(t, "1_2_10", ChatID(1, 2, 10))
}

func Test_ChatID_ComparesNumerically(t *testing.T) {
	// строковое сравнение поставило бы 10 раньше 9
	assert.Equal(t, "9_10_5", ChatID(10, 9, 5))
}

func Test_ChatID_DiffersPerBook(t *testing.T) {
	assert.NotEqual(t, ChatID(1, 2, 10), ChatID(1, 2, 11))
}

func Test_ParseChatID_RoundTrip(t *testing.T) {
	low, high, book, err := ParseChatID(ChatID(10, 9, 5))

	assert.NoError(t, err)
	assert.Equal(t, []int64{9, 10, 5}, []int64{low, high, book})
}

func Test_ParseChatID_RejectsMalformed(t *testing.T) {
	for _, raw := range []string{"", "1_2", "2_1_10", "1_1_10", "a_2_10", "1_2_-3", "1_2_10_4"} {
		_, _, _, err := ParseChatID(raw)
		assert.ErrorIs(t, err, ErrMalformedChatID, raw)
	}
}
