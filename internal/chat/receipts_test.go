package chat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/thereayou/chatlink/internal/models"
)

type fakeMarker struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeMarker) MarkMessageAsRead(_ context.Context, _ int64, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, messageID)
	return f.err
}

func (f *fakeMarker) marked() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int64, len(f.calls))
	copy(out, f.calls)
	return out
}

// receiptsFixture запускает координатор с последовательным
// планировщиком: задачи выполняются по одной, как в цикле событий
type receiptsFixture struct {
	mu       sync.Mutex
	marker   *fakeMarker
	log      *MessageLog
	active   *ActiveRoom
	coord    *ReceiptCoordinator
	onMarked chan int64
}

func newReceiptsFixture(t *testing.T, markerErr error) *receiptsFixture {
	t.Helper()
	f := &receiptsFixture{
		marker:   &fakeMarker{err: markerErr},
		log:      NewMessageLog(),
		active:   NewActiveRoom(),
		onMarked: make(chan int64, 16),
	}
	schedule := func(task func()) {
		f.mu.Lock()
		defer f.mu.Unlock()
		task()
	}
	f.coord = NewReceiptCoordinator(f.marker, f.log, f.active, 1, schedule,
		func(roomID int64) { f.onMarked <- roomID }, zap.NewNop())
	f.coord.FallbackDelay = 20 * time.Millisecond
	return f
}

func (f *receiptsFixture) openRoom(roomID int64, msgs []models.Message) {
	room := testRoom(roomID, "room")
	f.active.Set(&room)
	f.mu.Lock()
	f.log.Hydrate(roomID, msgs)
	f.mu.Unlock()
}

func (f *receiptsFixture) waitMarked(t *testing.T) {
	t.Helper()
	select {
	case <-f.onMarked:
	case <-time.After(time.Second):
		t.Fatal("mark as read never completed")
	}
}

func TestRequestMarkAsReadIdempotent(t *testing.T) {
	f := newReceiptsFixture(t, nil)
	f.openRoom(7, logMessages(101))

	f.coord.RequestMarkAsRead(7, 101)
	f.waitMarked(t)

	f.mu.Lock()
	firstAt := *f.log.Get(101).ReadAt
	f.mu.Unlock()

	// Повторный вызов — безвредный no-op: удалённый вызов уходит,
	// локальное состояние не меняется
	f.coord.RequestMarkAsRead(7, 101)
	f.waitMarked(t)

	f.mu.Lock()
	msg := f.log.Get(101)
	f.mu.Unlock()
	if !msg.IsRead {
		t.Fatal("message not read")
	}
	if !msg.ReadAt.Equal(firstAt) {
		t.Fatal("readAt changed on duplicate call")
	}
	if got := len(f.marker.marked()); got != 2 {
		t.Fatalf("remote calls = %d, want 2", got)
	}
}

func TestFallbackSweepMarksOnlyUnreadFromOthers(t *testing.T) {
	f := newReceiptsFixture(t, nil)

	own := *testMessage(100, 7, 1) // своё сообщение
	unread := *testMessage(101, 7, 9)
	read := *testMessage(102, 7, 9)
	read.IsRead = true
	f.openRoom(7, []models.Message{own, unread, read})

	f.mu.Lock()
	f.coord.ScheduleFallback()
	f.mu.Unlock()
	f.waitMarked(t)

	calls := f.marker.marked()
	if len(calls) != 1 || calls[0] != 101 {
		t.Fatalf("marked %v, want [101]", calls)
	}
}

func TestScheduleFallbackReplacesPreviousTimer(t *testing.T) {
	f := newReceiptsFixture(t, nil)
	f.openRoom(7, logMessages(101))

	f.mu.Lock()
	f.coord.ScheduleFallback()
	f.coord.ScheduleFallback()
	f.mu.Unlock()
	f.waitMarked(t)

	// Два взвода таймера — один проход
	select {
	case <-f.onMarked:
		t.Fatal("sweep ran twice")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMessageVisibleGuards(t *testing.T) {
	f := newReceiptsFixture(t, nil)

	own := *testMessage(100, 7, 1)
	read := *testMessage(102, 7, 9)
	read.IsRead = true
	unread := *testMessage(101, 7, 9)
	f.openRoom(7, []models.Message{own, read, unread})

	f.mu.Lock()
	f.coord.MessageVisible(100) // своё
	f.coord.MessageVisible(102) // уже прочитано
	f.coord.MessageVisible(999) // неизвестное
	f.coord.MessageVisible(101)
	f.mu.Unlock()
	f.waitMarked(t)

	calls := f.marker.marked()
	if len(calls) != 1 || calls[0] != 101 {
		t.Fatalf("marked %v, want [101]", calls)
	}
}

func TestMarkFailureIsSwallowed(t *testing.T) {
	f := newReceiptsFixture(t, errors.New("boom"))
	f.openRoom(7, logMessages(101))

	f.coord.RequestMarkAsRead(7, 101)

	deadline := time.After(time.Second)
	for len(f.marker.marked()) == 0 {
		select {
		case <-deadline:
			t.Fatal("remote call never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}

	select {
	case <-f.onMarked:
		t.Fatal("onMarked fired on failure")
	case <-time.After(50 * time.Millisecond):
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.log.Get(101).IsRead {
		t.Fatal("failed mark must not patch local state")
	}
}

func TestCancelPendingStopsFallback(t *testing.T) {
	f := newReceiptsFixture(t, nil)
	f.openRoom(7, logMessages(101))

	f.mu.Lock()
	f.coord.ScheduleFallback()
	f.coord.CancelPending()
	f.mu.Unlock()

	select {
	case <-f.onMarked:
		t.Fatal("cancelled fallback still ran")
	case <-time.After(100 * time.Millisecond):
	}
}
