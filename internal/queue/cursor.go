package queue

// CursorAfterRemove returns the current index after the item at removedOrder
// is deleted from a queue that had cursor as its current index and now holds
// remaining items.
func CursorAfterRemove(cursor, removedOrder, remaining int) int {
	switch {
	case remaining <= 0:
		return 0
	case removedOrder < cursor:
		cursor--
	case removedOrder == cursor && cursor > remaining-1:
		cursor = remaining - 1
	}
	return ClampCursor(cursor, remaining)
}

// CursorAfterMove returns the current index after the item at from is moved
// to to. The cursor keeps pointing at the item that was current.
func CursorAfterMove(cursor, from, to int) int {
	switch {
	case from == cursor:
		return to
	case from < cursor && to >= cursor:
		return cursor - 1
	case from > cursor && to <= cursor:
		return cursor + 1
	}
	return cursor
}

// ClampCursor forces cursor into [0, n-1], or 0 for an empty queue
func ClampCursor(cursor, n int) int {
	if n <= 0 || cursor < 0 {
		return 0
	}
	if cursor > n-1 {
		return n - 1
	}
	return cursor
}
