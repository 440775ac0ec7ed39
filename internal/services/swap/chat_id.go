package swap

import (
	"errors"
	"strconv"
	"strings"
)

// ErrMalformedChatID ключ переписки не соответствует формату
var ErrMalformedChatID = errors.New("malformed chat id")

// ChatID строит ключ переписки "{меньший id}_{больший id}_{id книги}".
// Порядок пользователей не влияет на результат.
func ChatID(userA, userB, bookID int64) string {
	low, high := userA, userB
	if low > high {
		low, high = high, low
	}
	return strconv.FormatInt(low, 10) + "_" + strconv.FormatInt(high, 10) + "_" + strconv.FormatInt(bookID, 10)
}

// ParseChatID разбирает ключ переписки обратно в участников и книгу
func ParseChatID(chatID string) (low, high, bookID int64, err error) {
	parts := strings.Split(chatID, "_")
	if len(parts) != 3 {
		return 0, 0, 0, ErrMalformedChatID
	}

	var ids [3]int64
	for i, part := range parts {
		ids[i], err = strconv.ParseInt(part, 10, 64)
		if err != nil || ids[i] <= 0 {
			return 0, 0, 0, ErrMalformedChatID
		}
	}

	if ids[0] >= ids[1] {
		return 0, 0, 0, ErrMalformedChatID
	}
	return ids[0], ids[1], ids[2], nil
}
